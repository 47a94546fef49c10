// Package keystore persiste el bundle de claves de firma offline: claves con
// ventana temporal, identidad del empleado (employeeId) y credencial del
// dispositivo (deviceKey), en un único registro JSON por directorio de estado.
package keystore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paystubhq/punchcard/internal/observability/logger"
	"github.com/paystubhq/punchcard/internal/qrtoken"
	"github.com/paystubhq/punchcard/internal/security/seal"
	"github.com/paystubhq/punchcard/internal/util/atomicwrite"
)

// FileName es el nombre fijo del registro dentro del directorio de estado.
const FileName = "offline_qr_keys.json"

// record es la forma persistida del bundle.
type record struct {
	Keys       []qrtoken.SigningKey `json:"keys"`
	EmployeeID string               `json:"employeeId"`
	DeviceKey  string               `json:"deviceKey"`
	LastSync   int64                `json:"lastSync"`
	SavedAt    int64                `json:"savedAt"`
}

// Store mantiene el bundle en memoria y lo respalda a disco en cada
// mutación. Una instancia por directorio de estado, inyectada donde haga
// falta. Seguro para uso concurrente.
//
// Durabilidad: at-most-once. La escritura es atómica (tmp → rename), así que
// un corte a mitad de un save pierde a lo sumo esa mutación; el registro
// anterior queda intacto. Los errores de save se loggean y no se propagan.
type Store struct {
	path   string
	sealer *seal.Sealer
	log    *zap.Logger
	now    func() time.Time

	mu         sync.RWMutex
	keys       []qrtoken.SigningKey
	employeeID string
	deviceKey  string
	lastSync   int64
}

// Option configura un Store.
type Option func(*Store)

// WithSealer activa el cifrado del registro en reposo.
func WithSealer(s *seal.Sealer) Option {
	return func(st *Store) { st.sealer = s }
}

// WithLogger inyecta el logger del componente.
func WithLogger(l *zap.Logger) Option {
	return func(st *Store) { st.log = l }
}

// WithClock inyecta el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

// Open construye el Store y carga el registro persistido. Nunca falla:
// ausencia o corrupción del archivo dejan un bundle vacío listo para un
// nuevo sync.
func Open(stateDir string, opts ...Option) *Store {
	s := &Store{
		path: filepath.Join(stateDir, FileName),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("keystore")
	}
	s.load()
	return s
}

// Path es la ruta del registro en disco (diagnóstico).
func (s *Store) Path() string { return s.path }

// load lee el registro si existe. Cualquier problema deja el bundle vacío.
func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("state unreadable, starting empty", logger.File(s.path), logger.Err(err))
		}
		return
	}

	if seal.IsSealed(data) {
		if s.sealer == nil {
			s.log.Warn("state is sealed but no master key is set, starting empty", logger.File(s.path))
			return
		}
		plain, err := s.sealer.Open(string(data))
		if err != nil {
			s.log.Warn("state cannot be unsealed, starting empty", logger.File(s.path), logger.Err(err))
			return
		}
		data = plain
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.log.Warn("state corrupt, starting empty", logger.File(s.path), logger.Err(err))
		return
	}

	s.mu.Lock()
	s.keys = sortedKeys(rec.Keys)
	s.employeeID = rec.EmployeeID
	s.deviceKey = rec.DeviceKey
	s.lastSync = rec.LastSync
	s.mu.Unlock()
}

// save serializa y escribe el registro. El caller debe tener s.mu tomado.
func (s *Store) save() {
	rec := record{
		Keys:       s.keys,
		EmployeeID: s.employeeID,
		DeviceKey:  s.deviceKey,
		LastSync:   s.lastSync,
		SavedAt:    s.now().UnixMilli(),
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.log.Warn("state marshal failed", logger.Err(err))
		return
	}
	if s.sealer != nil {
		boxed, err := s.sealer.Seal(data)
		if err != nil {
			s.log.Warn("state seal failed", logger.Err(err))
			return
		}
		data = []byte(boxed)
	}
	if err := atomicwrite.WriteFile(s.path, data, 0o600); err != nil {
		s.log.Warn("state save failed", logger.File(s.path), logger.Err(err))
	}
}

// SetEmployeeID fija el identificador del empleado. Sin validación de
// formato; vacío limpia el campo.
func (s *Store) SetEmployeeID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.employeeID = id
	s.save()
}

// SetDeviceKey fija la credencial del dispositivo obtenida en el login.
func (s *Store) SetDeviceKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceKey = key
	s.save()
}

// ApplySync reemplaza claves, employeeId y lastSync tras un sync exitoso.
// Reemplazo total, nunca merge; deviceKey no se toca. Las claves quedan
// ordenadas por validFrom ascendente.
func (s *Store) ApplySync(keys []qrtoken.SigningKey, employeeID string, lastSync int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = sortedKeys(keys)
	s.employeeID = employeeID
	s.lastSync = lastSync
	s.save()
}

// Clear resetea el bundle y elimina el registro en disco (logout).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = nil
	s.employeeID = ""
	s.deviceKey = ""
	s.lastSync = 0
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("state remove failed", logger.File(s.path), logger.Err(err))
	}
}

// HasValidKeys reporta si se puede emitir ahora: alguna clave cubre el
// instante actual y la identidad está completa. Lectura pura, sin I/O.
func (s *Store) HasValidKeys() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.employeeID == "" || s.deviceKey == "" {
		return false
	}
	now := s.now().UnixMilli()
	for _, k := range s.keys {
		if k.Covers(now) {
			return true
		}
	}
	return false
}

// Snapshot implementa qrtoken.KeySource: copias, nunca referencias internas.
func (s *Store) Snapshot() ([]qrtoken.SigningKey, string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]qrtoken.SigningKey, len(s.keys))
	copy(keys, s.keys)
	return keys, s.employeeID, s.deviceKey
}

// Status es la foto de diagnóstico del bundle. Instantes en epoch ms, como
// el resto del formato de cable; cero = no disponible.
type Status struct {
	TotalKeys     int   `json:"totalKeys"`
	ValidKeys     int   `json:"validKeys"`
	HasEmployeeID bool  `json:"hasEmployeeId"`
	HasDeviceKey  bool  `json:"hasDeviceKey"`
	LastSync      int64 `json:"lastSync,omitempty"`
	NextWindow    int64 `json:"nextWindow,omitempty"`
	Ready         bool  `json:"ready"`
}

// Status calcula la foto actual. Ready coincide con HasValidKeys.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now().UnixMilli()
	st := Status{
		TotalKeys:     len(s.keys),
		HasEmployeeID: s.employeeID != "",
		HasDeviceKey:  s.deviceKey != "",
		LastSync:      s.lastSync,
	}
	var nextFrom int64
	for _, k := range s.keys {
		if k.Covers(now) {
			st.ValidKeys++
		}
		if k.ValidFrom > now && (nextFrom == 0 || k.ValidFrom < nextFrom) {
			nextFrom = k.ValidFrom
		}
	}
	if st.ValidKeys == 0 {
		st.NextWindow = nextFrom
	}
	st.Ready = st.ValidKeys > 0 && st.HasEmployeeID && st.HasDeviceKey
	return st
}

// sortedKeys copia y ordena por validFrom ascendente (desempate estable).
func sortedKeys(keys []qrtoken.SigningKey) []qrtoken.SigningKey {
	out := make([]qrtoken.SigningKey, len(keys))
	copy(out, keys)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ValidFrom < out[j].ValidFrom
	})
	return out
}
