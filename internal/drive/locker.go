package drive

import "context"

// Locker serializes structural operations per owner. The returned unlock
// function must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, owner string) (unlock func(), err error)
}
