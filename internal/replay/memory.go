package replay

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryGuard struct {
	c *gocache.Cache
}

func newMemory() *memoryGuard {
	return &memoryGuard{c: gocache.New(time.Minute, time.Minute)}
}

// FirstUse usa Add de go-cache: falla si la key existe y no expiró, así que
// el check-and-set es atómico.
func (g *memoryGuard) FirstUse(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	if err := g.c.Add(nonce, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (g *memoryGuard) Ping(context.Context) error { return nil }

func (g *memoryGuard) Close() error {
	g.c.Flush()
	return nil
}
