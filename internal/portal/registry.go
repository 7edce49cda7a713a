package portal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/campusportal/internal/cache"
	"github.com/geocoder89/campusportal/internal/credstore"
	"github.com/geocoder89/campusportal/internal/observability"
	"github.com/geocoder89/campusportal/internal/session"
	"github.com/geocoder89/campusportal/internal/sessionbus"
	"github.com/google/uuid"
)

const CookieName = "portal_sid"

type entry struct {
	ctx    *session.Context
	client *credstore.Client
}

func (e *entry) close() {
	e.ctx.Close()
	e.client.Close()
}

// Registry owns one session.Context per browser session id. Idle contexts
// are closed after the TTL.
type Registry struct {
	svc      *credstore.Service
	bus      sessionbus.Bus
	resolver session.Resolver
	prom     *observability.Prom
	log      *slog.Logger

	mu      sync.Mutex
	entries *cache.Cache[*entry]
}

func NewRegistry(svc *credstore.Service, bus sessionbus.Bus, resolver session.Resolver, idleTTL time.Duration, prom *observability.Prom, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}

	r := &Registry{
		svc:      svc,
		bus:      bus,
		resolver: resolver,
		prom:     prom,
		log:      log,
	}

	r.entries = cache.New[*entry](idleTTL, func(sid string, e *entry) {
		r.log.Debug("session_context_evicted", "sid", sid)
		e.close()
	})

	return r
}

func NewSessionID() string {
	return uuid.NewString()
}

// Get returns the context for sid, creating and starting one when needed.
func (r *Registry) Get(ctx context.Context, sid string) (*session.Context, error) {
	if e, ok := r.entries.Get(sid); ok {
		return e.ctx, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries.Get(sid); ok {
		return e.ctx, nil
	}

	log := r.log.With("sid", sid)
	client := credstore.NewClient(r.svc, r.bus, sid, log)
	sc := session.New(client, r.resolver, log)

	if err := sc.Start(ctx); err != nil {
		client.Close()
		return nil, err
	}

	r.entries.Set(sid, &entry{ctx: sc, client: client})
	r.prom.SetActiveSessions(r.entries.Len())

	return sc, nil
}

// Lookup returns an existing context without creating one.
func (r *Registry) Lookup(sid string) (*session.Context, bool) {
	e, ok := r.entries.Get(sid)
	if !ok {
		return nil, false
	}
	return e.ctx, true
}

// Remove closes and forgets the context for sid.
func (r *Registry) Remove(sid string) {
	e, ok := r.entries.Delete(sid)
	if ok {
		e.close()
	}
	r.prom.SetActiveSessions(r.entries.Len())
}

func (r *Registry) Len() int {
	return r.entries.Len()
}

// Run sweeps idle contexts until ctx is done, then closes the rest.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.entries.Clear()
			r.prom.SetActiveSessions(0)
			return
		case <-ticker.C:
			if n := r.entries.Sweep(); n > 0 {
				r.log.Info("session_contexts_swept", "count", n)
			}
			r.prom.SetActiveSessions(r.entries.Len())
		}
	}
}
