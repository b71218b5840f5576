package sessions

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrUnauthorized        = errors.New("only the host can do this")
	ErrCapacity            = errors.New("session is full")
	ErrSessionExists       = errors.New("session already exists")
	ErrHostRemoval         = errors.New("the host cannot be removed, end the session instead")
	ErrInvalidRequest      = errors.New("invalid request")

	// ErrRemoteSession is reported when another coordinator instance owns the session.
	ErrRemoteSession = fmt.Errorf("%w: owned by another instance", ErrSessionNotFound)
)
