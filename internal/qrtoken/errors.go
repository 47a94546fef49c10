package qrtoken

import "errors"

// Errores de emisión.
var (
	ErrBadAction       = errors.New("bad_action_type")
	ErrNoValidKey      = errors.New("no_valid_signing_key")
	ErrMissingIdentity = errors.New("missing_identity")
)

// Errores de verificación.
var (
	ErrMalformedToken = errors.New("malformed_token")
	ErrTokenVersion   = errors.New("unsupported_token_version")
	ErrTokenExpired   = errors.New("token_expired")
	ErrNoCoveringKey  = errors.New("no_covering_key")
	ErrBadSignature   = errors.New("bad_signature")
)
