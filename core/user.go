package core

import (
	"context"
	"errors"
)

// User is a participant of chat rooms.
// The ID is the identity key and is immutable for the duration of a chat session.
type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	ProfilePicPath string `json:"profilePicPath"`
}

// SignupInput is the input for registering a new user.
type SignupInput struct {
	Name           string `json:"name" validate:"required,max=64"`
	Email          string `json:"email" validate:"required,email"`
	Password       string `json:"password" validate:"required,min=8,max=72"`
	ProfilePicPath string `json:"profilePicPath" validate:"omitempty,max=512"`
}

func (s *SignupInput) Validate() error {
	return validate.Struct(s)
}

var (
	ErrConflictedUser = errors.New("user already exists")
)

type UserStore interface {
	// CreateUser registers a new user and returns it with a freshly assigned ID.
	// If the email is already taken, it returns ErrConflictedUser.
	CreateUser(ctx context.Context, input SignupInput) (*User, error)

	// GetUserByID returns nil if the user does not exist.
	GetUserByID(ctx context.Context, id string) (*User, error)

	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUsersByIDs returns the users found in the order of the given ids.
	// Unknown ids are skipped.
	GetUsersByIDs(ctx context.Context, ids ...string) ([]User, error)

	// ComparePassword reports whether the password matches the one stored for the email.
	ComparePassword(ctx context.Context, email, password string) (bool, error)
}
