// Package seal cifra el bundle de claves en reposo con XChaCha20-Poly1305.
// El sellado es opcional: sin clave maestra el bundle se guarda en claro.
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// EnvMasterKey es la variable de entorno con la clave maestra (32 bytes en
// base64, hex o crudo). Generar con: openssl rand -base64 32
const EnvMasterKey = "PUNCHCARD_STATE_KEY"

const (
	prefix = "sealed:v1|"
	sep    = "|" // base64(nonce)|base64(ciphertext) tras el prefijo
	keyLen = chacha20poly1305.KeySize
)

var errBadFormat = errors.New("formato inválido: esperado sealed:v1|base64(nonce)|base64(ciphertext)")

// Sealer cifra y descifra registros completos. Inmutable tras New; seguro
// para uso concurrente.
type Sealer struct {
	aead cipher.AEAD
}

// New construye un Sealer con una clave de 32 bytes.
func New(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20poly1305: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// FromEnv construye el Sealer desde EnvMasterKey. Devuelve (nil, nil) si la
// variable no está seteada: el llamador trata nil como "sin sellado".
func FromEnv() (*Sealer, error) {
	raw := strings.TrimSpace(os.Getenv(EnvMasterKey))
	if raw == "" {
		return nil, nil
	}
	key, err := ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", EnvMasterKey, err)
	}
	return New(key)
}

// ParseKey acepta la clave maestra en base64 (std o raw), hex o cruda.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == keyLen {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil && len(b) == keyLen {
		return b, nil
	}
	if len(s) == keyLen*2 {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	if len(s) == keyLen {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("clave inválida: requiere %d bytes (base64, hex o crudo)", keyLen)
}

// IsSealed reporta si data es un registro sellado por este paquete.
func IsSealed(data []byte) bool {
	return strings.HasPrefix(string(data), prefix)
}

// Seal cifra plain y devuelve sealed:v1|base64(nonce)|base64(ciphertext).
func (s *Sealer) Seal(plain []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	ct := s.aead.Seal(nil, nonce, plain, nil)
	return prefix + base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Open descifra un registro sellado. Falla con cualquier alteración.
func (s *Sealer) Open(boxed string) ([]byte, error) {
	body, ok := strings.CutPrefix(boxed, prefix)
	if !ok {
		return nil, errBadFormat
	}
	parts := strings.Split(body, sep)
	if len(parts) != 2 {
		return nil, errBadFormat
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != s.aead.NonceSize() {
		return nil, fmt.Errorf("nonce inválido: esperado %d bytes, obtuvo %d", s.aead.NonceSize(), len(nonce))
	}
	pt, err := s.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("aead auth/decrypt: %w", err)
	}
	return pt, nil
}
