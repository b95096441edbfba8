package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Ability servers.
const (
	ServerCommon = "COMMON"
	ServerAtlas  = "ATLAS"
)

var (
	// ErrUnknownServer is returned for a server with no registered abilities.
	ErrUnknownServer = errors.New("unknown ability server")

	// ErrUnknownAbility is returned for an ability the server does not expose.
	ErrUnknownAbility = errors.New("unknown ability")
)

// Router routes ability calls to the tool registered for a server.
// It is safe for concurrent use.
type Router struct {
	mu      sync.RWMutex
	servers map[string]map[string]Tool
	logger  *slog.Logger
}

// NewRouter creates an empty router. A nil logger uses slog.Default.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{servers: make(map[string]map[string]Tool), logger: logger}
}

// Register exposes t on server. Registering the same ability twice on one
// server is an error.
func (r *Router) Register(server string, t Tool) error {
	if server == "" || t == nil || t.Name() == "" {
		return errors.New("server and named tool are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	abilities, ok := r.servers[server]
	if !ok {
		abilities = make(map[string]Tool)
		r.servers[server] = abilities
	}
	if _, dup := abilities[t.Name()]; dup {
		return fmt.Errorf("ability %s already registered on %s", t.Name(), server)
	}
	abilities[t.Name()] = t
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Router) MustRegister(server string, tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(server, t); err != nil {
			panic(err)
		}
	}
}

// Abilities lists the abilities of server in name order.
func (r *Router) Abilities(server string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers[server]))
	for name := range r.servers[server] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether ability is registered on server.
func (r *Router) Has(server, ability string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.servers[server][ability]
	return ok
}

// Execute calls ability on server with params.
func (r *Router) Execute(ctx context.Context, server, ability string, params map[string]interface{}) (map[string]interface{}, error) {
	r.mu.RLock()
	abilities, ok := r.servers[server]
	var t Tool
	if ok {
		t = abilities[ability]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownAbility, ability, server)
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	started := time.Now()
	out, err := t.Call(ctx, params)
	if err != nil {
		r.logger.Warn("ability failed", "server", server, "ability", ability, "error", err)
		return nil, fmt.Errorf("%s.%s: %w", server, ability, err)
	}
	r.logger.Debug("ability executed", "server", server, "ability", ability, "duration", time.Since(started))
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}
