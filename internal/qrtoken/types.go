// Package qrtoken implementa el formato de token QR de asistencia offline:
// claves simétricas con ventana temporal, payload canónico JSON firmado con
// hash keyed SHA-256 y sobre base64. Mint y Verify comparten el mismo codec.
package qrtoken

import (
	"fmt"
	"time"
)

// WireVersion es la versión del formato de payload. Va como primer campo
// firmado del token; el verificador rechaza cualquier otra versión.
const WireVersion = 1

// Validity es la vigencia exacta de un token: expiry - timestamp, siempre.
const Validity = 30 * time.Second

const nonceBytes = 8

// Action es el tipo de marcaje que el token acredita.
type Action string

const (
	TimeIn   Action = "TIME_IN"
	BreakIn  Action = "BREAK_IN"
	BreakOut Action = "BREAK_OUT"
	TimeOut  Action = "TIME_OUT"
)

// Valid reporta si la acción es una de las cuatro conocidas.
func (a Action) Valid() bool {
	switch a {
	case TimeIn, BreakIn, BreakOut, TimeOut:
		return true
	}
	return false
}

// ParseAction valida una acción llegada por CLI o por la red.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrBadAction, s)
	}
	return a, nil
}

// SigningKey es una clave simétrica de ventana temporal emitida por el
// backend. Los instantes son epoch en milisegundos, extremos inclusive.
type SigningKey struct {
	Key       string `json:"key"`
	ValidFrom int64  `json:"validFrom"`
	ValidTo   int64  `json:"validTo"`
	Timestamp int64  `json:"timestamp,omitempty"`
	HourIndex *int   `json:"hourIndex,omitempty"`
}

// Covers reporta si la clave cubre el instante t (validFrom <= t <= validTo).
func (k SigningKey) Covers(t int64) bool {
	return t >= k.ValidFrom && t <= k.ValidTo
}

// KeySource entrega una vista consistente del bundle local. Snapshot devuelve
// copias: ni Minter ni Verifier pueden mutar el origen a través de ella.
type KeySource interface {
	Snapshot() (keys []SigningKey, employeeID, deviceKey string)
}

// activeKeyAt busca la clave vigente en t. Con ventanas solapadas gana la de
// validFrom más reciente: es la que más ventana restante tiene por delante.
func activeKeyAt(keys []SigningKey, t int64) (SigningKey, bool) {
	var best SigningKey
	found := false
	for _, k := range keys {
		if !k.Covers(t) {
			continue
		}
		if !found || k.ValidFrom > best.ValidFrom {
			best = k
			found = true
		}
	}
	return best, found
}
