package kiosk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Journal escribe una línea JSON por decisión de verificación. Es el registro
// local de auditoría del kiosko, pensado para reconciliación posterior contra
// el backend. Independiente del logging: acá van IDs reales, no enmascarados.
type Journal struct {
	mu sync.Mutex
	f  *os.File
}

// Entry es una línea del journal.
type Entry struct {
	TS         string `json:"ts"`
	Event      string `json:"event"`
	RequestID  string `json:"requestId,omitempty"`
	EmployeeID string `json:"employeeId,omitempty"`
	Type       string `json:"type,omitempty"`
	Nonce      string `json:"nonce,omitempty"`
	OK         bool   `json:"ok"`
	Reason     string `json:"reason,omitempty"`
}

// OpenJournal abre (o crea) el archivo en modo append. Con path vacío el
// journal queda deshabilitado y Append es un no-op.
func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return &Journal{}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("crear directorio journal: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("abrir journal: %w", err)
	}
	return &Journal{f: f}, nil
}

// Append agrega una entrada. Completa TS si viene vacío.
func (j *Journal) Append(e Entry) error {
	if j == nil || j.f == nil {
		return nil
	}
	if e.TS == "" {
		e.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = j.f.Write(append(b, '\n'))
	return err
}

// Close cierra el archivo subyacente.
func (j *Journal) Close() error {
	if j == nil || j.f == nil {
		return nil
	}
	return j.f.Close()
}
