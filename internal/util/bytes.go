package util

// CloneBytes returns a private copy of b, nil for empty input. Stores hand
// out and accept copies so callers can reuse buffers freely.
func CloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
