package session

import "errors"

// Domain errors, mapped to transport status codes by internal/control.
var (
	ErrInvalidWorkingDir = errors.New("session: invalid working directory")
	ErrInvalidCommand    = errors.New("session: invalid command")
	ErrIDCollision       = errors.New("session: id collision")
	ErrSpawnFailed       = errors.New("session: spawn failed")
	ErrNotFound          = errors.New("session: not found")
	ErrExited            = errors.New("session: already exited")
	ErrInvalidResize     = errors.New("session: cols and rows must be >= 1")
)
