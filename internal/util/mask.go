package util

import "strconv"

// MaskID reduce un identificador a primero+último carácter para logs.
// Nunca loggear employeeId completo.
func MaskID(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 3 {
		return "***"
	}
	return s[:1] + "…" + s[len(s)-1:]
}

// MaskSecret oculta secretos (deviceKey, claves de firma, bearers) dejando
// solo la longitud como pista.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***(" + strconv.Itoa(len(s)) + ")"
}
