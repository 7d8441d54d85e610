package core

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidBytecode   = errors.New("invalid shader bytecode")
	ErrUnknownExtension  = errors.New("unknown shader file extension")
	ErrInvalidSettings   = errors.New("invalid settings")
	ErrWatcherClosed     = errors.New("settings watcher already closed")
	ErrIdentifierRelease = errors.New("identifier released before it was acquired")
	ErrUnknown           = errors.New("unknown")
)
