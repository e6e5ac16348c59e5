package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("no draft stored under key")
	ErrNotObtained = errors.New("lock is held elsewhere")
)

// Lock is a held, non-reentrant lock.
type Lock interface {
	Release(ctx context.Context) error
}
