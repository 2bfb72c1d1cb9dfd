package hoard

// SpaceChecker reports free space on the filesystem holding path.
type SpaceChecker interface {
	Available(path string) (uint64, error)
}

// Locker grants exclusive access to an item directory. The returned
// function releases the lock.
type Locker interface {
	Lock(dir string) (func() error, error)
}

// NopLocker grants every lock immediately.
type NopLocker struct{}

func (NopLocker) Lock(string) (func() error, error) {
	return func() error { return nil }, nil
}
