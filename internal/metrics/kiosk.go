package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas Prometheus del kiosko. Paquete aparte para que kiosk y keysync
// puedan instrumentar sin ciclos de import.

var (
	VerifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "punchcard_verify_total",
		Help: "Verificaciones de tokens por resultado",
	}, []string{"result"})

	VerifyLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "punchcard_verify_latency_ms",
		Help:    "Latencia de verificación en milisegundos (incluye replay guard)",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	})

	SyncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "punchcard_key_sync_total",
		Help: "Syncs de claves contra el backend por resultado",
	}, []string{"result"})

	KeysTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "punchcard_keys_total",
		Help: "Claves en el bundle local",
	})

	KeysValid = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "punchcard_keys_valid",
		Help: "Claves del bundle vigentes ahora",
	})

	LastSyncTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "punchcard_last_sync_timestamp_seconds",
		Help: "Epoch del último sync exitoso",
	})
)

// RegisterKiosk registra las métricas en reg (default si nil). Tolera
// registros repetidos para no romper en tests ni en re-wiring.
func RegisterKiosk(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		VerifyTotal,
		VerifyLatency,
		SyncTotal,
		KeysTotal,
		KeysValid,
		LastSyncTimestamp,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
