package hashcanon_test

import (
	"testing"

	"github.com/sakganji/datasetd/pkg/hashcanon"
	"github.com/stretchr/testify/assert"
)

func TestRowHash_Deterministic(t *testing.T) {
	row := map[string]any{"b": 1, "a": "x"}
	h1 := hashcanon.RowHash(row)
	h2 := hashcanon.RowHash(map[string]any{"a": "x", "b": 1})
	assert.Equal(t, h1, h2)
}

func TestRowHash_IntegralFloatMatchesInt(t *testing.T) {
	h1 := hashcanon.RowHash(map[string]any{"n": 2.0})
	h2 := hashcanon.RowHash(map[string]any{"n": 2})
	assert.Equal(t, h1, h2)
}

// TestRowHash_UnicodeNormalization checks that the same text encoded two
// different ways ("é", a precomposed e-acute, versus "é", a
// plain e followed by a combining acute accent) hashes identically, per
// §4.1's "UTF-8 normalized" canonicalization.
func TestRowHash_UnicodeNormalization(t *testing.T) {
	nfc := "café"
	nfd := "café"
	assert.NotEqual(t, nfc, nfd, "test fixture sanity: the two forms must differ byte-for-byte")

	h1 := hashcanon.RowHash(map[string]any{"name": nfc})
	h2 := hashcanon.RowHash(map[string]any{"name": nfd})
	assert.Equal(t, h1, h2)
}

func TestRowHash_DiffersOnValue(t *testing.T) {
	h1 := hashcanon.RowHash(map[string]any{"a": "x"})
	h2 := hashcanon.RowHash(map[string]any{"a": "y"})
	assert.NotEqual(t, h1, h2)
}
