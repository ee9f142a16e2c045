package datastore

import (
	"errors"
	"fmt"

	"github.com/kitaindia/slim3/datastore/record"
	"github.com/kitaindia/slim3/storage/remote"
)

var (
	// ErrNilArgument indicates a nil key, model or transaction handed to
	// an operation that requires one. It is raised before any remote
	// call is attempted.
	ErrNilArgument = errors.New("argument must not be nil")
	// ErrInactiveTransaction indicates a settled transaction handed to a
	// transactional operation
	ErrInactiveTransaction = remote.ErrInactiveTransaction
)

// NotFoundError reports a typed single-key lookup that matched nothing.
// It wraps remote.ErrNotFound.
type NotFoundError struct {
	Key *record.Key
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no record for key %s", e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return remote.ErrNotFound
}

// IsNotFound reports whether err means a key matched no record
func IsNotFound(err error) bool {
	return errors.Is(err, remote.ErrNotFound)
}
