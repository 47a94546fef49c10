package qrtoken

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"
)

// Minter emite tokens de asistencia firmados a partir del bundle local.
// Trabaja sobre snapshots: una emisión fallida jamás muta el origen.
type Minter struct {
	src  KeySource
	now  func() time.Time
	rand io.Reader
}

// MinterOption configura un Minter.
type MinterOption func(*Minter)

// WithClock inyecta el reloj (tests).
func WithClock(now func() time.Time) MinterOption {
	return func(m *Minter) { m.now = now }
}

// WithRand inyecta la fuente de aleatoriedad del nonce (tests).
func WithRand(r io.Reader) MinterOption {
	return func(m *Minter) { m.rand = r }
}

// NewMinter construye un Minter sobre src. Por defecto usa time.Now y
// crypto/rand.
func NewMinter(src KeySource, opts ...MinterOption) *Minter {
	m := &Minter{src: src, now: time.Now, rand: rand.Reader}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mint genera un token offline para la acción dada.
//
// Pasos: clave vigente ahora (sin clave → ErrNoValidKey), identidad completa
// (employeeId y deviceKey no vacíos → si no, ErrMissingIdentity), nonce de 8
// bytes en hex, expiry = timestamp + Validity exacto, firma keyed sobre el
// payload canónico y sobre en base64. Nunca entra en pánico.
func (m *Minter) Mint(action Action) (string, error) {
	if !action.Valid() {
		return "", fmt.Errorf("%w: %q", ErrBadAction, string(action))
	}

	keys, employeeID, deviceKey := m.src.Snapshot()
	now := m.now().UnixMilli()

	key, ok := activeKeyAt(keys, now)
	if !ok {
		return "", ErrNoValidKey
	}
	if employeeID == "" || deviceKey == "" {
		return "", ErrMissingIdentity
	}

	nonce, err := newNonce(m.rand)
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	c := Claims{
		Version:    WireVersion,
		EmployeeID: employeeID,
		DeviceKey:  deviceKey,
		Type:       action,
		Timestamp:  now,
		Nonce:      nonce,
		Expiry:     now + Validity.Milliseconds(),
	}
	body, err := c.signingBytes()
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	c.Signature = keyedDigest(key.Key, body)

	return encodeToken(c)
}

// newNonce produce nonceBytes bytes aleatorios en hex minúsculas (16 chars).
func newNonce(r io.Reader) (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b), nil
}
