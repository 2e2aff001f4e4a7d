//go:build !windows

package shm

// Create is only implemented on Windows, where the named-mapping
// backend lives. Other platforms still get NewInProcess for tests.
func Create() (*Channel, error) {
	return nil, ErrNotSupported
}

// Open is only implemented on Windows.
func Open() (*Channel, error) {
	return nil, ErrNotSupported
}
