package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrSubjectRequired    = errors.New("subject required")
	ErrExamDisabled       = errors.New("exam is disabled by admin")
	ErrInsufficientPool   = errors.New("insufficient question pool")
	ErrAlreadySubmitted   = errors.New("exam already submitted for this subject")
	ErrUserExists         = errors.New("user already exists")
	ErrProtectedUser      = errors.New("cannot delete admin users")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// PoolError reports a subject whose question bank is smaller than the
// configured paper size.
type PoolError struct {
	Subject string
	Need    int
	Have    int
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("not enough questions for %s (need %d, have %d)", e.Subject, e.Need, e.Have)
}

func (e *PoolError) Unwrap() error { return ErrInsufficientPool }
