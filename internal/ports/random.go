package ports

// Random feeds backoff jitter. A reader that always yields zero bytes gives
// the lower bound of every jitter window.
type Random interface {
	Read(b []byte) (n int, err error)
}
