// Package replay impide que un mismo token se acepte dos veces: cada nonce
// se admite una sola vez dentro del horizonte de replay.
//
// Drivers:
//   - memory: in-process, para un kiosko único o desarrollo.
//   - redis: compartido, para varios kioskos contra el mismo backend.
package replay

import (
	"context"
	"time"
)

// Guard registra nonces vistos.
type Guard interface {
	// FirstUse marca el nonce como usado. Devuelve false si ya estaba
	// registrado (replay). La operación es atómica en ambos drivers.
	FirstUse(ctx context.Context, nonce string, ttl time.Duration) (bool, error)

	// Ping verifica la conexión del driver.
	Ping(ctx context.Context) error

	// Close libera recursos.
	Close() error
}

// Config selecciona y parametriza el driver.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string // redis host:port
	Password string
	DB       int
	Prefix   string // prefijo de keys en redis
}

// New construye el Guard según la configuración. Driver vacío o desconocido
// cae a memory.
func New(cfg Config) (Guard, error) {
	switch cfg.Driver {
	case "redis":
		return newRedis(cfg)
	case "memory", "":
		return newMemory(), nil
	default:
		return newMemory(), nil
	}
}
