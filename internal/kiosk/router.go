package kiosk

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/paystubhq/punchcard/internal/observability/logger"
)

// maxVerifyBody limita el body de POST /v1/verify. Un token QR ronda el
// medio KB; 64 KiB deja margen de sobra.
const maxVerifyBody = 64 << 10

type verifyRequest struct {
	Token string `json:"token"`
}

// NewRouter arma el http.Handler del daemon: verificación, estado, health
// y métricas. Con reg nil se usa el registry global de prometheus.
func NewRouter(svc *Service, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(withRecover(svc.log))
	r.Use(withRequestID)
	r.Use(withLogging(svc.log))

	r.Post("/v1/verify", svc.handleVerify)
	r.Get("/v1/status", svc.handleStatus)
	r.Get("/healthz", svc.handleHealthz)

	if reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	} else {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, ErrMethodNotAllowed)
	})
	return r
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxVerifyBody)).Decode(&req); err != nil {
		WriteError(w, ErrInvalidJSON)
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		WriteError(w, ErrBadRequest.WithDetail("token requerido"))
		return
	}
	writeJSON(w, http.StatusOK, s.VerifyToken(r.Context(), req.Token))
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"replay": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─────────────── middlewares ───────────────

type ctxKeyRequestID struct{}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFrom(ctx context.Context) string {
	rid, _ := ctx.Value(ctxKeyRequestID{}).(string)
	return rid
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		return strings.TrimSpace(strings.Split(xf, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func withLogging(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			l := base.With(
				logger.RequestID(w.Header().Get("X-Request-ID")),
				logger.ClientIP(clientIP(r)),
			)
			next.ServeHTTP(rec, r.WithContext(logger.ToContext(r.Context(), l)))

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			l.Info("http",
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.Status(status),
				logger.Int("bytes", rec.bytes),
				logger.Duration(time.Since(start)),
			)
		})
	}
}

func withRecover(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					base.Error("panic",
						logger.RequestID(w.Header().Get("X-Request-ID")),
						logger.Path(r.URL.Path),
						logger.Any("recover", rec),
					)
					WriteError(w, ErrInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
