package credential

import "errors"

var (
	// ErrUnauthorized is returned when a caller other than the issuer attempts
	// a privileged operation.
	ErrUnauthorized = errors.New("credential: caller is not the issuer")
	// ErrNotFound is returned when the referenced token id has never been
	// minted.
	ErrNotFound = errors.New("credential: token not found")
	// ErrNonTransferable is returned by every transfer attempt. Credentials
	// are bound to the address they were minted to.
	ErrNonTransferable = errors.New("credential: tokens are non-transferable")
)
