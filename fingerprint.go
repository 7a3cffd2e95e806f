package gigatile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint deterministically identifies an opened source: backend name,
// resolved path, file size and mtime, and the backend-relevant option
// state. It keys the source instance cache and prefixes every tile cache
// key for that source, so touching the file on disk naturally invalidates
// both.
func Fingerprint(backend, path string, opts *Options) string {
	h := xxhash.New()
	h.WriteString(backend)
	h.WriteString("\x00")

	if strings.Contains(path, "://") {
		// Virtual schemes (test://...) have no file behind them; the
		// full URI is the identity.
		h.WriteString(path)
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		h.WriteString(abs)
		if fi, err := os.Stat(abs); err == nil {
			fmt.Fprintf(h, "\x00%d\x00%d", fi.Size(), fi.ModTime().UnixNano())
		}
	}

	h.WriteString("\x00")
	h.WriteString(opts.stateKey())
	return fmt.Sprintf("%s-%016x", backend, h.Sum64())
}
