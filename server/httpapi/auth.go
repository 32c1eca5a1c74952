package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// defaultTokenTTL bounds how long an issued bearer token remains valid.
const defaultTokenTTL = 24 * time.Hour

// IssueToken signs a bearer token binding userID, the HMAC-SHA256 scheme
// the teacher pack uses for its API-key signatures (server/httpapi),
// generalized here from per-request signing to a stateless session token
// since datasetd has no API-client roster, only permission grants per
// user id (§4.4).
func IssueToken(secret, userID string) string {
	exp := time.Now().Add(defaultTokenTTL).Unix()
	payload := userID + "|" + strconv.FormatInt(exp, 10)
	sig := computeHMAC(secret, payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + sig
}

// ParseToken verifies a bearer token's signature and expiry, returning the
// user id it was issued for.
func ParseToken(secret, token string) (string, error) {
	dot := strings.LastIndex(token, ".")
	if dot < 0 {
		return "", fmt.Errorf("malformed token")
	}
	encodedPayload, signature := token[:dot], token[dot+1:]

	payloadBytes, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return "", fmt.Errorf("malformed token")
	}
	payload := string(payloadBytes)

	if !hmac.Equal([]byte(computeHMAC(secret, payload)), []byte(signature)) {
		return "", fmt.Errorf("invalid token signature")
	}

	fields := strings.SplitN(payload, "|", 2)
	if len(fields) != 2 {
		return "", fmt.Errorf("malformed token")
	}
	exp, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("malformed token")
	}
	if time.Now().Unix() > exp {
		return "", fmt.Errorf("token expired")
	}
	return fields[0], nil
}

func computeHMAC(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
