package utils

import "io"

// MaxDrain is how much of an unread response body CloseBody discards before closing.
// An error page larger than this costs a new connection instead of a slow read.
const MaxDrain = 64 << 10

// CloseBody discards up to MaxDrain unread bytes of an API response body and closes it,
// so the keep-alive connection goes back to the pool for the next unit's request.
func CloseBody(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, MaxDrain))
	return rc.Close()
}
