package graph

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/fieldcycler/runtime/internal/telemetry/events"
	"github.com/fieldcycler/runtime/internal/telemetry/logging"
)

// Event reports a beacon key appearing or disappearing from the registry.
type Event struct {
	Joined bool
	Key    string
}

// Token represents one live beacon; Close retracts it.
type Token struct {
	registry *Registry
	key      string
}

func (t *Token) Close() { t.registry.unregister(t.key) }

// Registry is the in-process liveliness-beacon store backing list/watch.
type Registry struct {
	mu   sync.RWMutex
	live map[string]struct{}

	bus    events.Bus
	logger logging.Logger
}

func NewRegistry(bus events.Bus, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.New(nil)
	}
	return &Registry{live: make(map[string]struct{}), bus: bus, logger: logger}
}

// Register adds key to the live set and beacons its arrival; the returned
// Token's Close beacons its departure and removes it.
func (r *Registry) Register(key string) *Token {
	r.mu.Lock()
	r.live[key] = struct{}{}
	r.mu.Unlock()
	r.publish(Event{Joined: true, Key: key})
	return &Token{registry: r, key: key}
}

func (r *Registry) unregister(key string) {
	r.mu.Lock()
	_, ok := r.live[key]
	delete(r.live, key)
	r.mu.Unlock()
	if ok {
		r.publish(Event{Joined: false, Key: key})
	}
}

func (r *Registry) publish(ev Event) {
	if r.bus == nil {
		return
	}
	kind := "left"
	if ev.Joined {
		kind = "joined"
	}
	_ = r.bus.Publish(events.Event{Category: events.CategoryGraph, Type: kind, Fields: map[string]interface{}{"key": ev.Key}})
}

// List returns every currently-live key with the given prefix, sorted.
func (r *Registry) List(prefix string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.live))
	for k := range r.live {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Watch subscribes to every future Joined/Left event whose key matches
// prefix. Call the returned cancel func to stop watching.
func (r *Registry) Watch(prefix string) (<-chan Event, func()) {
	out := make(chan Event, 32)
	if r.bus == nil {
		close(out)
		return out, func() {}
	}
	sub, err := r.bus.Subscribe(32)
	if err != nil {
		close(out)
		return out, func() {}
	}
	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if ev.Category != events.CategoryGraph {
					continue
				}
				key, _ := ev.Fields["key"].(string)
				if !strings.HasPrefix(key, prefix) {
					continue
				}
				select {
				case out <- Event{Joined: ev.Type == "joined", Key: key}:
				default:
				}
			case <-done:
				return
			}
		}
	}()
	return out, func() { close(done); _ = sub.Close() }
}

// ListSessions parses every live session key under namespace ("" for
// every namespace). Keys that fail to parse are logged and skipped, never
// fatal, per the graph plane's stated policy.
func (r *Registry) ListSessions(namespace string) []SessionInfo {
	return parseAll(r.List(sessionsPrefix(namespace)), ParseSessionKey, r.logger)
}

func (r *Registry) ListNodes(namespace string) []NodeInfo {
	return parseAll(r.List(nodesPrefix(namespace)), ParseNodeKey, r.logger)
}

func (r *Registry) ListPublishers(namespace string) []PublisherInfo {
	return parseAll(r.List(publishersPrefix(namespace)), ParsePublisherKey, r.logger)
}

func (r *Registry) ListParameters(namespace string) []ParameterInfo {
	return parseAll(r.List(parametersPrefix(namespace)), ParseParameterKey, r.logger)
}

func sessionsPrefix(namespace string) string   { return prefixFor("sessions", namespace) }
func nodesPrefix(namespace string) string      { return prefixFor("nodes", namespace) }
func publishersPrefix(namespace string) string { return prefixFor("publishers", namespace) }
func parametersPrefix(namespace string) string { return prefixFor("parameters", namespace) }

func prefixFor(entity, namespace string) string {
	if namespace == "" {
		return "hulkz/graph/" + entity + "/"
	}
	return "hulkz/graph/" + entity + "/" + namespace + "/"
}

func parseAll[T any](keys []string, parse func(string) (T, error), logger logging.Logger) []T {
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		info, err := parse(k)
		if err != nil {
			logger.ErrorCtx(context.Background(), "graph: failed to parse discovery key", "key", k, "err", err)
			continue
		}
		out = append(out, info)
	}
	return out
}
