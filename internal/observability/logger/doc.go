// Package logger provee un Zap singleton con scoping por contexto.
//
// Inicialización (una vez, en main):
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, Service: "kioskd"})
//	defer logger.Sync()
//
// En handlers y services, con contexto:
//
//	log := logger.From(ctx)
//	log.Info("keys replaced", logger.Count(n))
//
// Sin contexto, fallback al singleton:
//
//	logger.L().Info("agent started")
//
// "dev" loggea a consola con colores; "prod" emite JSON. Nunca loggear
// secretos: deviceKey, claves de firma y bearers pasan por util.MaskSecret.
package logger
