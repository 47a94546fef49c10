package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance *zap.Logger
)

// Init inicializa el singleton. Idempotente: solo la primera llamada tiene
// efecto. Llamar al arrancar el binario.
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L retorna el singleton; si nadie llamó Init, arma uno dev/info con el
// nombre del producto.
func L() *zap.Logger {
	if instance == nil {
		Init(Config{Env: "dev", Level: "info", Service: "punchcard"})
	}
	return instance
}

// Named retorna el singleton con nombre de componente.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync descarga buffers pendientes. Para defer en main.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
