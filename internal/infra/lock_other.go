//go:build !unix

package infra

// fileLock is a no-op on platforms without flock; the in-process mutex
// still serializes writers.
type fileLock struct{}

func lockFile(string) (*fileLock, error) { return &fileLock{}, nil }

func (l *fileLock) unlock() {}
