package logger

import (
	"time"

	"go.uber.org/zap"
)

// Constructores de campos tipados. Mantienen los nombres de campo
// consistentes en todo el binario.

// --- HTTP ---

// RequestID identifica un request del kiosko o hacia el backend.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method es el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path es el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status es el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration es la duración de una operación.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// ClientIP es la IP del cliente del kiosko.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// --- Negocio ---

// EmployeeID es el identificador del empleado. Pasar ya enmascarado
// (util.MaskID) fuera de dev.
func EmployeeID(v string) zap.Field {
	return zap.String("employee_id", v)
}

// Action es el tipo de marcaje (TIME_IN, BREAK_OUT, ...).
func Action(v string) zap.Field {
	return zap.String("action", v)
}

// Nonce identifica un token concreto sin exponer su contenido.
func Nonce(v string) zap.Field {
	return zap.String("nonce", v)
}

// Result es el desenlace de una verificación (ok, expired, replay, ...).
func Result(v string) zap.Field {
	return zap.String("result", v)
}

// LastSync es el instante del último sync exitoso.
func LastSync(v time.Time) zap.Field {
	return zap.Time("last_sync", v)
}

// --- Sistema ---

// Err envuelve un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// File es una ruta en disco (bundle, journal).
func File(v string) zap.Field {
	return zap.String("file", v)
}

// Driver es el driver elegido para un componente (memory, redis).
func Driver(v string) zap.Field {
	return zap.String("driver", v)
}

// --- Datos ---

// Count es un conteo genérico.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Any crea un campo para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}
