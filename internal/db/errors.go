package db

import "errors"

// Domain errors surfaced by the stores. Handlers map these to client-visible
// responses; anything else is treated as an internal failure.
var (
	ErrNotFound          = errors.New("not found")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrTicketClosed      = errors.New("ticket is not open")
)
