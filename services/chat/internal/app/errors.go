package app

import "errors"

var (
	// ErrRoomNotFound is returned when an operation names a room that was never created.
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomAlreadyExists = errors.New("room already exists")
	// ErrUnauthenticated is returned when an operation needs a signed-in user.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrValidation wraps malformed input; the wrapped message is safe to show.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials is deliberately vague so login does not reveal
	// which nicknames exist.
	ErrInvalidCredentials = errors.New("not valid credentials")
	ErrNicknameTaken      = errors.New("name is already taken")

	ErrExportsDisabled = errors.New("transcript exports are not configured")
	ErrExportNotFound  = errors.New("export not found")
)
