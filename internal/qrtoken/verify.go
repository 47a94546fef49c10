package qrtoken

import (
	"crypto/hmac"
	"fmt"
	"time"
)

// Verifier valida tokens contra el mismo bundle de claves que los emite.
// Prueba TODAS las claves que cubren el timestamp del token: así la
// verificación no depende del desempate que hizo el emisor entre ventanas
// solapadas.
type Verifier struct {
	src    KeySource
	now    func() time.Time
	leeway time.Duration
}

// VerifierOption configura un Verifier.
type VerifierOption func(*Verifier)

// WithVerifyClock inyecta el reloj (tests).
func WithVerifyClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithLeeway tolera desfase de reloj del dispositivo al evaluar expiry.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.leeway = d }
}

// NewVerifier construye un Verifier sobre src. Leeway por defecto: cero.
func NewVerifier(src KeySource, opts ...VerifierOption) *Verifier {
	v := &Verifier{src: src, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify decodifica y valida un token. Devuelve los claims si la firma es
// válida con alguna clave que cubra su timestamp y no está vencido.
func (v *Verifier) Verify(token string) (*Claims, error) {
	c, err := DecodeToken(token)
	if err != nil {
		return nil, err
	}
	if c.Version != WireVersion {
		return nil, fmt.Errorf("%w: v=%d", ErrTokenVersion, c.Version)
	}
	if !c.Type.Valid() {
		return nil, fmt.Errorf("%w: type %q", ErrMalformedToken, string(c.Type))
	}
	if c.EmployeeID == "" || c.DeviceKey == "" || c.Nonce == "" || c.Signature == "" {
		return nil, fmt.Errorf("%w: empty field", ErrMalformedToken)
	}
	if c.Expiry-c.Timestamp != Validity.Milliseconds() {
		return nil, fmt.Errorf("%w: validity window", ErrMalformedToken)
	}

	if v.now().UnixMilli() > c.Expiry+v.leeway.Milliseconds() {
		return nil, ErrTokenExpired
	}

	body, err := c.signingBytes()
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	keys, _, _ := v.src.Snapshot()
	covered := false
	for _, k := range keys {
		if !k.Covers(c.Timestamp) {
			continue
		}
		covered = true
		if hmac.Equal([]byte(keyedDigest(k.Key, body)), []byte(c.Signature)) {
			out := *c
			return &out, nil
		}
	}
	if !covered {
		return nil, ErrNoCoveringKey
	}
	return nil, ErrBadSignature
}
