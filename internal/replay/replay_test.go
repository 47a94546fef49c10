package replay

import (
	"context"
	"testing"
	"time"
)

func TestMemoryFirstUse(t *testing.T) {
	g, err := New(Config{Driver: "memory"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	ctx := context.Background()
	first, err := g.FirstUse(ctx, "aabbccdd00112233", time.Minute)
	if err != nil || !first {
		t.Fatalf("primer uso = (%v, %v), want (true, nil)", first, err)
	}
	again, err := g.FirstUse(ctx, "aabbccdd00112233", time.Minute)
	if err != nil || again {
		t.Fatalf("segundo uso = (%v, %v), want (false, nil)", again, err)
	}

	// Otro nonce no se ve afectado.
	other, _ := g.FirstUse(ctx, "ffffffffffffffff", time.Minute)
	if !other {
		t.Error("nonce distinto debió admitirse")
	}
}

func TestMemoryExpiry(t *testing.T) {
	g := newMemory()
	defer g.Close()

	ctx := context.Background()
	if ok, _ := g.FirstUse(ctx, "n1", 20*time.Millisecond); !ok {
		t.Fatal("primer uso debió admitirse")
	}
	time.Sleep(40 * time.Millisecond)
	// Fuera del horizonte el nonce vuelve a estar disponible; el token ya
	// venció mucho antes, así que no hay riesgo de replay real.
	if ok, _ := g.FirstUse(ctx, "n1", 20*time.Millisecond); !ok {
		t.Error("tras expirar debió admitirse de nuevo")
	}
}

func TestNewDefaultsToMemory(t *testing.T) {
	g, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()
	if err := g.Ping(context.Background()); err != nil {
		t.Errorf("Ping memory: %v", err)
	}
}
