// Package kiosk implementa el lado lector: el daemon que verifica tokens
// escaneados contra el bundle local de claves, con guard de replay y
// journal de auditoría.
package kiosk

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/paystubhq/punchcard/internal/keystore"
	"github.com/paystubhq/punchcard/internal/metrics"
	"github.com/paystubhq/punchcard/internal/observability/logger"
	"github.com/paystubhq/punchcard/internal/qrtoken"
	"github.com/paystubhq/punchcard/internal/replay"
	"github.com/paystubhq/punchcard/internal/util"
)

// replayTTL es cuánto se recuerda un nonce: el doble de la ventana del token,
// para cubrir leeway y desfase de reloj entre kioskos.
const replayTTL = 2 * qrtoken.Validity

// Motivos de rechazo expuestos en la respuesta de verificación. Estables:
// los kioskos los mapean a mensajes en pantalla.
const (
	ReasonMalformed         = "malformed_token"
	ReasonVersion           = "unsupported_version"
	ReasonExpired           = "token_expired"
	ReasonNoKey             = "no_covering_key"
	ReasonBadSignature      = "bad_signature"
	ReasonDuplicate         = "duplicate_token"
	ReasonReplayUnavailable = "replay_unavailable"
)

// Syncer refresca el bundle de claves desde el backend.
type Syncer interface {
	Sync(ctx context.Context) error
}

// VerifyResult es la respuesta de una verificación.
type VerifyResult struct {
	OK         bool   `json:"ok"`
	EmployeeID string `json:"employeeId,omitempty"`
	Type       string `json:"type,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Service reúne store, verificador, guard de replay, journal y syncer.
type Service struct {
	store    *keystore.Store
	verifier *qrtoken.Verifier
	guard    replay.Guard
	journal  *Journal
	syncer   Syncer
	log      *zap.Logger
	now      func() time.Time
}

// Option configura el Service.
type Option func(*Service)

// WithJournal asigna el journal de auditoría.
func WithJournal(j *Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithSyncer asigna el refrescador de claves usado por KeepSynced.
func WithSyncer(sy Syncer) Option {
	return func(s *Service) { s.syncer = sy }
}

// WithLogger asigna el logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock fija el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService arma el servicio de verificación.
func NewService(store *keystore.Store, verifier *qrtoken.Verifier, guard replay.Guard, opts ...Option) *Service {
	s := &Service{
		store:    store,
		verifier: verifier,
		guard:    guard,
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.guard == nil {
		s.guard, _ = replay.New(replay.Config{Driver: "memory"})
	}
	return s
}

// VerifyToken valida un token escaneado: firma, ventana temporal y replay.
// Siempre devuelve un resultado; los rechazos llevan Reason estable.
func (s *Service) VerifyToken(ctx context.Context, token string) VerifyResult {
	start := time.Now()
	res, claims := s.decide(ctx, token)

	label := "ok"
	if !res.OK {
		label = res.Reason
	}
	metrics.VerifyTotal.WithLabelValues(label).Inc()
	metrics.VerifyLatency.Observe(float64(time.Since(start)) / float64(time.Millisecond))

	entry := Entry{
		TS:     s.now().UTC().Format(time.RFC3339Nano),
		Event:  "verify",
		OK:     res.OK,
		Reason: res.Reason,
	}
	if claims != nil {
		entry.EmployeeID = claims.EmployeeID
		entry.Type = string(claims.Type)
		entry.Nonce = claims.Nonce
	}
	if rid := requestIDFrom(ctx); rid != "" {
		entry.RequestID = rid
	}
	if err := s.journal.Append(entry); err != nil {
		s.log.Warn("journal append falló", logger.Err(err))
	}

	fields := []zap.Field{logger.Result(label)}
	if claims != nil {
		fields = append(fields,
			logger.EmployeeID(util.MaskID(claims.EmployeeID)),
			logger.Action(string(claims.Type)),
			logger.Nonce(claims.Nonce),
		)
	}
	s.log.Info("verificación", fields...)

	return res
}

// decide corre la verificación criptográfica y luego el guard de replay.
// Devuelve los claims cuando el token al menos decodificó y firmó bien,
// para que el journal registre también los duplicados.
func (s *Service) decide(ctx context.Context, token string) (VerifyResult, *qrtoken.Claims) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return VerifyResult{Reason: reasonFor(err)}, nil
	}

	fresh, gerr := s.guard.FirstUse(ctx, claims.EmployeeID+":"+claims.Nonce, replayTTL)
	if gerr != nil {
		// Guard caído: rechazamos antes que aceptar un posible replay.
		s.log.Error("replay guard no disponible", logger.Err(gerr))
		return VerifyResult{Reason: ReasonReplayUnavailable}, claims
	}
	if !fresh {
		return VerifyResult{Reason: ReasonDuplicate}, claims
	}

	return VerifyResult{
		OK:         true,
		EmployeeID: claims.EmployeeID,
		Type:       string(claims.Type),
		Timestamp:  claims.Timestamp,
	}, claims
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, qrtoken.ErrTokenVersion):
		return ReasonVersion
	case errors.Is(err, qrtoken.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, qrtoken.ErrNoCoveringKey):
		return ReasonNoKey
	case errors.Is(err, qrtoken.ErrBadSignature):
		return ReasonBadSignature
	default:
		return ReasonMalformed
	}
}

// Status devuelve el estado del bundle local.
func (s *Service) Status() keystore.Status {
	return s.store.Status()
}

// SyncNow fuerza un refresh del bundle y publica métricas del store.
func (s *Service) SyncNow(ctx context.Context) error {
	if s.syncer == nil {
		return nil
	}
	err := s.syncer.Sync(ctx)
	if err != nil {
		metrics.SyncTotal.WithLabelValues("error").Inc()
		s.log.Warn("key sync falló", logger.Err(err))
	} else {
		metrics.SyncTotal.WithLabelValues("ok").Inc()
	}
	s.publishStoreMetrics()
	return err
}

// KeepSynced refresca el bundle cada interval hasta que ctx se cancele.
// El primer sync es inmediato.
func (s *Service) KeepSynced(ctx context.Context, interval time.Duration) {
	_ = s.SyncNow(ctx)
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = s.SyncNow(ctx)
		}
	}
}

func (s *Service) publishStoreMetrics() {
	st := s.store.Status()
	metrics.KeysTotal.Set(float64(st.TotalKeys))
	metrics.KeysValid.Set(float64(st.ValidKeys))
	if st.LastSync > 0 {
		metrics.LastSyncTimestamp.Set(float64(st.LastSync) / 1000.0)
	}
}

// Close libera journal y guard.
func (s *Service) Close() error {
	var first error
	if err := s.journal.Close(); err != nil {
		first = err
	}
	if err := s.guard.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
