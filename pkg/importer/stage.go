package importer

import (
	"io"
	"os"

	"github.com/sakganji/datasetd/pkg/apperr"
)

// Stage streams an upload to a temp file under dir in bounded chunks via
// io.Copy, enforcing maxBytes without ever holding the file contents in
// memory (§4.7 stage 1). Exceeding the cap fails before the job is
// enqueued and removes the partial file.
func Stage(r io.Reader, maxBytes int64, dir string) (path string, size int64, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, apperr.Wrap(err, "create staging directory")
	}
	f, err := os.CreateTemp(dir, "import-*.staged")
	if err != nil {
		return "", 0, apperr.Wrap(err, "create staging file")
	}
	name := f.Name()

	n, copyErr := io.Copy(f, io.LimitReader(r, maxBytes+1))
	closeErr := f.Close()
	if copyErr != nil {
		os.Remove(name)
		return "", 0, apperr.Wrap(copyErr, "stage upload")
	}
	if closeErr != nil {
		os.Remove(name)
		return "", 0, apperr.Wrap(closeErr, "close staging file")
	}
	if n > maxBytes {
		os.Remove(name)
		return "", 0, apperr.QuotaExceeded("upload exceeds max size of %d bytes", maxBytes).WithDetail("max_bytes", maxBytes)
	}
	return name, n, nil
}
