package parcel

import "errors"

// Domain errors surfaced by the registration use cases. Handlers map
// these to HTTP status codes with errors.Is; nothing below the
// handler boundary should know about transport.
var (
	ErrParcelNotFound      = errors.New("parcel not found")
	ErrParcelAlreadyExists = errors.New("parcel already exists")
	ErrParcelAlreadyBound  = errors.New("parcel is already bound to a company")
	ErrCompanyNotFound     = errors.New("company not found")
	ErrAccessDenied        = errors.New("access to parcel denied")
	ErrOutboxDuplicate     = errors.New("duplicate outbox event")
	ErrOutboxPersistence   = errors.New("failed to persist outbox event")
)
