// Package keysync trae del backend el bundle de claves de firma offline.
// Un sync exitoso reemplaza claves y employeeId por completo (nunca merge) y
// actualiza lastSync; cualquier fallo deja el bundle anterior intacto.
package keysync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/paystubhq/punchcard/internal/keystore"
	"github.com/paystubhq/punchcard/internal/observability/logger"
	"github.com/paystubhq/punchcard/internal/qrtoken"
	"github.com/paystubhq/punchcard/internal/util"
)

// keysPath es el endpoint de claves del backend.
const keysPath = "/api/qr/keys"

// maxBody limita la respuesta: el bundle completo cabe de sobra en 1 MiB.
const maxBody = 1 << 20

var (
	ErrNoBearer     = errors.New("missing_bearer_token")
	ErrAuthExpired  = errors.New("auth_token_expired")
	ErrUnauthorized = errors.New("sync_unauthorized")
)

// StatusError es un status HTTP inesperado del backend.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from key endpoint", e.StatusCode)
}

// Config parametriza el cliente.
type Config struct {
	// BaseURL del backend, sin slash final (ej: https://api.paystub.example).
	BaseURL string
	// Timeout por request. Default: 10s.
	Timeout time.Duration
	// UserAgent identifica el binario ante el backend. Default: "punchcard".
	UserAgent string
}

// Client sincroniza el bundle contra el backend. Los Sync concurrentes se
// colapsan en un único request en vuelo; todos reciben el mismo resultado.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	store     *keystore.Store
	log       *zap.Logger
	now       func() time.Time
	group     singleflight.Group
}

// Option configura un Client.
type Option func(*Client)

// WithHTTPClient inyecta el *http.Client (tests, proxies).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithLogger inyecta el logger del componente.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithClock inyecta el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New construye el cliente sobre el store dado.
func New(cfg Config, store *keystore.Store, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "punchcard"
	}
	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: ua,
		http:      &http.Client{Timeout: timeout},
		store:     store,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Named("keysync")
	}
	return c
}

// keysResponse es el cuerpo de GET /api/qr/keys.
type keysResponse struct {
	Keys          []qrtoken.SigningKey `json:"keys"`
	SyncTimestamp int64                `json:"syncTimestamp"`
	Employee      employeeInfo         `json:"employee"`
	KeyInfo       json.RawMessage      `json:"keyInfo"`
}

type employeeInfo struct {
	ID            flexID `json:"id"`
	EmployeeCode  string `json:"employeeCode"`
	Name          string `json:"name"`
	ActiveDevices int    `json:"activeDevices"`
}

// flexID tolera que el backend mande el id como string o como número.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// Sync trae el bundle y lo aplica al store. Sin reintentos: el llamador
// decide cuándo volver a intentar. Varios Sync simultáneos comparten un solo
// request; el contexto que gobierna es el del primero en llegar.
func (c *Client) Sync(ctx context.Context, bearer string) error {
	_, err, _ := c.group.Do("sync", func() (any, error) {
		return nil, c.doSync(ctx, bearer)
	})
	return err
}

func (c *Client) doSync(ctx context.Context, bearer string) error {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return ErrNoBearer
	}
	// Cortocircuito: un JWT vencido va a fallar en el backend; mejor avisar
	// sin gastar el round trip. Tokens opacos siguen de largo.
	if bearerExpired(bearer, c.now()) {
		return ErrAuthExpired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+keysPath, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("key endpoint request: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized, res.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case res.StatusCode < 200 || res.StatusCode > 299:
		return &StatusError{StatusCode: res.StatusCode}
	}

	var body keysResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, maxBody)).Decode(&body); err != nil {
		return fmt.Errorf("decode keys response: %w", err)
	}

	lastSync := body.SyncTimestamp
	if lastSync == 0 {
		lastSync = c.now().UnixMilli()
	}
	c.store.ApplySync(body.Keys, string(body.Employee.ID), lastSync)

	c.log.Info("key bundle replaced",
		logger.RequestID(requestID),
		logger.Count(len(body.Keys)),
		logger.EmployeeID(util.MaskID(string(body.Employee.ID))),
		logger.LastSync(time.UnixMilli(lastSync)),
	)
	if len(body.KeyInfo) > 0 {
		c.log.Debug("key endpoint info", logger.Any("key_info", json.RawMessage(body.KeyInfo)))
	}
	return nil
}

// bearerExpired inspecciona el exp de un JWT sin verificar firma. Un bearer
// que no parsea como JWT no opina: lo valida el backend.
func bearerExpired(bearer string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(bearer, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
