package session

import "errors"

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrEngineUnavailable    = errors.New("conversational engine unavailable")
	ErrCapabilityNotExposed = errors.New("capability not exposed")
	ErrSessionClosed        = errors.New("session is ending")
)
