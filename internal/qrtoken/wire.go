package qrtoken

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Claims es el sobre decodificado de un token. El orden de declaración de los
// campos ES el contrato de serialización: la firma cubre exactamente el JSON
// de todos los campos excepto signature, en este orden.
type Claims struct {
	Version    int    `json:"v"`
	EmployeeID string `json:"employeeId"`
	DeviceKey  string `json:"deviceKey"`
	Type       Action `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	Nonce      string `json:"nonce"`
	Expiry     int64  `json:"expiry"`
	Signature  string `json:"signature,omitempty"`
}

// signingBytes serializa el payload canónico (sobre sin firma).
func (c Claims) signingBytes() ([]byte, error) {
	c.Signature = "" // omitempty lo excluye del JSON
	return json.Marshal(c)
}

// keyedDigest calcula hex(sha256(secret || body)). Hash keyed simple, no un
// HMAC completo: el verificador usa exactamente la misma construcción.
func keyedDigest(secret string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(secret))
	h.Write(body)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// encodeToken sella el sobre: base64(JSON). Sin compresión ni envoltorios.
func encodeToken(c Claims) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeToken abre el sobre sin verificar firma ni vigencia. Sirve para
// inspección (CLI --out json) y como primer paso de Verify.
func DecodeToken(token string) (*Claims, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrMalformedToken, err)
	}
	var c Claims
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: json: %v", ErrMalformedToken, err)
	}
	return &c, nil
}
