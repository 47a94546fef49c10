// kioskd es el daemon lector: expone la verificación de tokens escaneados
// sobre HTTP y mantiene el bundle de claves sincronizado contra el backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/paystubhq/punchcard/internal/config"
	"github.com/paystubhq/punchcard/internal/keystore"
	"github.com/paystubhq/punchcard/internal/keysync"
	"github.com/paystubhq/punchcard/internal/kiosk"
	"github.com/paystubhq/punchcard/internal/metrics"
	"github.com/paystubhq/punchcard/internal/observability/logger"
	"github.com/paystubhq/punchcard/internal/qrtoken"
	"github.com/paystubhq/punchcard/internal/replay"
	"github.com/paystubhq/punchcard/internal/security/seal"
)

var version = "dev"

// upstream adapta keysync.Client a kiosk.Syncer con el bearer de servicio.
type upstream struct {
	client *keysync.Client
	bearer string
}

func (u upstream) Sync(ctx context.Context) error { return u.client.Sync(ctx, u.bearer) }

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "ruta del archivo de configuración YAML")
	flag.Parse()

	// .env pisa el YAML igual que el resto del entorno, así que va primero.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, Service: "kioskd", Version: version})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	sealer, err := seal.FromEnv()
	if err != nil {
		log.Fatal("clave de sellado inválida", logger.Err(err))
	}

	storeOpts := []keystore.Option{keystore.WithLogger(logger.Named("keystore"))}
	if sealer != nil {
		storeOpts = append(storeOpts, keystore.WithSealer(sealer))
	}
	store := keystore.Open(cfg.State.Dir, storeOpts...)

	guard, err := replay.New(replay.Config{
		Driver:   cfg.Replay.Driver,
		Addr:     cfg.Replay.Redis.Addr,
		Password: cfg.Replay.Redis.Password,
		DB:       cfg.Replay.Redis.DB,
		Prefix:   cfg.Replay.Redis.Prefix,
	})
	if err != nil {
		log.Fatal("replay guard", logger.Err(err), logger.Driver(cfg.Replay.Driver))
	}

	journal, err := kiosk.OpenJournal(cfg.Journal.Path)
	if err != nil {
		log.Fatal("journal", logger.Err(err), logger.File(cfg.Journal.Path))
	}

	verifier := qrtoken.NewVerifier(store, qrtoken.WithLeeway(cfg.VerifyLeeway()))

	svcOpts := []kiosk.Option{
		kiosk.WithLogger(logger.Named("kiosk")),
		kiosk.WithJournal(journal),
	}
	if cfg.Upstream.BaseURL != "" {
		client := keysync.New(keysync.Config{
			BaseURL: cfg.Upstream.BaseURL,
			Timeout: cfg.UpstreamTimeout(),
		}, store, keysync.WithLogger(logger.Named("keysync")))
		svcOpts = append(svcOpts, kiosk.WithSyncer(upstream{client: client, bearer: cfg.Upstream.AuthToken}))
	} else {
		log.Warn("sin upstream.base_url: el bundle solo se refresca por fuera del daemon")
	}

	svc := kiosk.NewService(store, verifier, guard, svcOpts...)
	defer func() { _ = svc.Close() }()

	if err := metrics.RegisterKiosk(nil); err != nil {
		log.Warn("registro de métricas", logger.Err(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go svc.KeepSynced(rootCtx, cfg.SyncInterval())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           kiosk.NewRouter(svc, nil),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("kioskd escuchando",
			logger.String("addr", cfg.Server.Addr),
			logger.Driver(cfg.Replay.Driver),
			logger.String("state_dir", cfg.State.Dir),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("apagado solicitado")
	case err := <-serveErr:
		if err != nil {
			log.Error("server falló", logger.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incompleto", logger.Err(err))
	}
	log.Info("kioskd detenido")
}
