// Package outputs implements the outputs router and subscription manager
// of spec.md 4.C11: a per-process router that forwards Subscribe/
// Unsubscribe/Read requests to the cycler instance named by the leading
// path segment, caches the (client, request) -> instance mapping so a
// later Unsubscribe finds its way back, and fans out a change
// notification to every subscription whose path intersects a cycler's
// freshly published output. Grounded directly on
// _examples/original_source/crates/communication/src/server/outputs/router.rs
// and on the teacher's output.CompositeSink fan-out-to-many pattern.
package outputs

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fieldcycler/runtime/internal/valuetree"
)

// Format selects how a value is serialized on the wire (spec.md 4.C10).
type Format int

const (
	FormatText Format = iota
	FormatBinary
)

// Client identifies one communication-server connection.
type Client uint64

// Update is pushed to the communication layer once per subscription that
// observed a change, carrying enough to build a Response envelope.
type Update struct {
	Client    Client
	RequestID uint64
	Format    Format
	Timestamp time.Time
	Value     valuetree.Value
}

type subKey struct {
	client Client
	reqID  uint64
}

type subscribedPath struct {
	rest   string
	format Format
	last   valuetree.Value
	seen   bool
}

// provider is the registered surface of one cycler instance: its declared
// field names (for GetFields) and a read function returning its latest
// published output.
type provider struct {
	fields []string
	read   func() (valuetree.Value, bool)

	mu   sync.Mutex
	subs map[subKey]*subscribedPath
}

// Router is the process-wide C11 router. Sink receives every Update a
// subscription produces; the communication server wires Sink to the
// WebSocket connection matching Update.Client.
type Router struct {
	mu        sync.RWMutex
	providers map[string]*provider
	cache     map[subKey]string // (client, reqID) -> instance

	sink func(Update)
}

func NewRouter(sink func(Update)) *Router {
	return &Router{
		providers: make(map[string]*provider),
		cache:     make(map[subKey]string),
		sink:      sink,
	}
}

// RegisterCycler makes instance addressable by the router. fields lists
// its declared output field names for GetFields; read returns its latest
// published value (typically a buffer.Reader.Next wrapped as a closure).
func (r *Router) RegisterCycler(instance string, fields []string, read func() (valuetree.Value, bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[instance] = &provider{fields: fields, read: read, subs: make(map[subKey]*subscribedPath)}
}

// GetFields synthesizes a Paths response from the registered field sets
// without contacting any provider, per spec.md 4.C11.
func (r *Router) GetFields() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.providers))
	for instance, p := range r.providers {
		out[instance] = append([]string(nil), p.fields...)
	}
	return out
}

// Read performs a single-shot read of path, which must be of the form
// "instance.rest".
func (r *Router) Read(path string, format Format) (valuetree.Value, time.Time, error) {
	_, p, rest, err := r.resolve(path)
	if err != nil {
		return valuetree.Value{}, time.Time{}, err
	}
	root, ok := p.read()
	if !ok {
		return valuetree.Null(), time.Now(), nil
	}
	v, _ := resolveDotted(root, rest)
	return v, time.Now(), nil
}

// Subscribe registers a new subscription for (client, requestID) against
// path and returns its initial value, exactly as spec.md 4.C10's Subscribe
// response carries the value immediately alongside future Updates.
func (r *Router) Subscribe(client Client, requestID uint64, path string, format Format) (valuetree.Value, time.Time, error) {
	instance, p, rest, err := r.resolve(path)
	if err != nil {
		return valuetree.Value{}, time.Time{}, err
	}
	root, ok := p.read()
	var v valuetree.Value
	if ok {
		v, _ = resolveDotted(root, rest)
	} else {
		v = valuetree.Null()
	}

	key := subKey{client: client, reqID: requestID}
	p.mu.Lock()
	p.subs[key] = &subscribedPath{rest: rest, format: format, last: v, seen: true}
	p.mu.Unlock()

	r.mu.Lock()
	r.cache[key] = instance
	r.mu.Unlock()

	return v, time.Now(), nil
}

// Unsubscribe removes the (client, requestID) subscription, routing to
// the provider recorded at Subscribe time.
func (r *Router) Unsubscribe(client Client, requestID uint64) error {
	key := subKey{client: client, reqID: requestID}
	r.mu.Lock()
	instance, ok := r.cache[key]
	delete(r.cache, key)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("outputs: no subscription %d for client %d", requestID, client)
	}
	r.mu.RLock()
	p := r.providers[instance]
	r.mu.RUnlock()
	if p == nil {
		return nil
	}
	p.mu.Lock()
	delete(p.subs, key)
	p.mu.Unlock()
	return nil
}

// UnsubscribeEverything fans out to every registered provider and purges
// every cache entry belonging to client, per spec.md 4.C11.
func (r *Router) UnsubscribeEverything(client Client) {
	r.mu.Lock()
	for key, instance := range r.cache {
		if key.client != client {
			continue
		}
		delete(r.cache, key)
		if p := r.providers[instance]; p != nil {
			p.mu.Lock()
			delete(p.subs, key)
			p.mu.Unlock()
		}
	}
	r.mu.Unlock()
}

// NotifyPublish is wired as a cycler's OnPublish hook: it pushes an Update
// to the Sink for every subscription on instance whose subscribed path's
// value changed in this publish.
func (r *Router) NotifyPublish(instance string, timestamp time.Time, output valuetree.Value) {
	r.mu.RLock()
	p := r.providers[instance]
	r.mu.RUnlock()
	if p == nil {
		return
	}

	p.mu.Lock()
	var fire []Update
	for key, sub := range p.subs {
		v, _ := resolveDotted(output, sub.rest)
		if sub.seen && reflect.DeepEqual(v, sub.last) {
			continue
		}
		sub.last = v
		sub.seen = true
		fire = append(fire, Update{Client: key.client, RequestID: key.reqID, Format: sub.format, Timestamp: timestamp, Value: v})
	}
	p.mu.Unlock()

	if r.sink == nil {
		return
	}
	for _, u := range fire {
		r.sink(u)
	}
}

func (r *Router) resolve(path string) (instance string, p *provider, rest string, err error) {
	instance, rest, ok := valuetree.CyclerInstanceOf(path)
	if !ok {
		return "", nil, "", fmt.Errorf("outputs: malformed path %q: expected \"instance.field\"", path)
	}
	r.mu.RLock()
	p, ok = r.providers[instance]
	r.mu.RUnlock()
	if !ok {
		return "", nil, "", fmt.Errorf("outputs: unknown cycler instance %q", instance)
	}
	return instance, p, rest, nil
}

// resolveDotted navigates root through a "."-separated field path. An
// empty rest addresses the whole output root.
func resolveDotted(root valuetree.Value, rest string) (valuetree.Value, bool) {
	if rest == "" {
		return root, true
	}
	cur := root
	for _, seg := range strings.Split(rest, ".") {
		v, ok := cur.Field(seg)
		if !ok {
			return valuetree.Null(), false
		}
		cur = v
	}
	return cur, true
}
