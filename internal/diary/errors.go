package diary

import "github.com/pkg/errors"

var (
	ErrUsernameTaken      = errors.New("username already registered")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmptyEntry         = errors.New("diary entry is empty")
	ErrInvalidInput       = errors.New("invalid input")
)
