package config

import (
	"errors"

	"github.com/customsops/customs/internal/authority"
)

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique username, email or role name is
// already taken.
var ErrDuplicate = errors.New("already exists")

// ErrUnknownAuthority is returned when a role references an authority that
// is not in the store.
var ErrUnknownAuthority = authority.ErrUnknownAuthority

// ErrUnknownRole is returned when a user is granted a role that does not
// exist.
var ErrUnknownRole = errors.New("unknown role")
