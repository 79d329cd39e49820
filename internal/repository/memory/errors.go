package memory

import "errors"

var (
	errDuplicateEmail = errors.New("duplicate key value violates unique constraint on email")
	errDuplicateToken = errors.New("duplicate key value violates unique constraint on token")
)
