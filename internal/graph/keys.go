// Package graph implements the liveliness-beacon discovery plane:
// sessions, nodes, publishers and parameters register a beacon key while
// alive, and any watcher can list or subscribe to a namespace-scoped
// pattern of those keys. No external pub/sub broker is in scope here —
// the registry is an in-process liveliness store that a real deployment
// would back onto one (spec.md's graph plane treats the wire substrate as
// an external collaborator).
package graph

import (
	"fmt"
	"strings"
)

// Scope distinguishes how widely a publisher or parameter is advertised.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeLocal   Scope = "local"
	ScopePrivate Scope = "private"
)

func ParseScope(raw string) (Scope, error) {
	switch Scope(raw) {
	case ScopeGlobal, ScopeLocal, ScopePrivate:
		return Scope(raw), nil
	default:
		return "", fmt.Errorf("graph: invalid scope %q", raw)
	}
}

type SessionInfo struct{ Namespace, ID string }
type NodeInfo struct{ Namespace, Name string }
type PublisherInfo struct {
	Namespace, Node string
	Scope           Scope
	Path            string
}
type ParameterInfo struct {
	Namespace, Node string
	Scope           Scope
	Path            string
}

// DisplayPath renders path with its scope's conventional prefix.
func (p PublisherInfo) DisplayPath() string  { return displayPath(p.Scope, p.Path) }
func (p ParameterInfo) DisplayPath() string  { return displayPath(p.Scope, p.Path) }

func displayPath(scope Scope, path string) string {
	switch scope {
	case ScopeGlobal:
		return "/" + path
	case ScopePrivate:
		return "~/" + path
	default:
		return path
	}
}

func SessionKey(namespace, id string) string { return join("sessions", namespace, id) }
func NodeKey(namespace, name string) string  { return join("nodes", namespace, name) }
func PublisherKey(namespace, node string, scope Scope, path string) string {
	return join("publishers", namespace, node, string(scope), path)
}
func ParameterKey(namespace, node string, scope Scope, path string) string {
	return join("parameters", namespace, node, string(scope), path)
}

func join(parts ...string) string { return "hulkz/graph/" + strings.Join(parts, "/") }

func ParseSessionKey(key string) (SessionInfo, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 {
		return SessionInfo{}, fmt.Errorf("graph: session key %q: expected 5 parts, found %d", key, len(parts))
	}
	if err := checkPrefix(parts, "sessions"); err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{Namespace: parts[3], ID: parts[4]}, nil
}

func ParseNodeKey(key string) (NodeInfo, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 {
		return NodeInfo{}, fmt.Errorf("graph: node key %q: expected 5 parts, found %d", key, len(parts))
	}
	if err := checkPrefix(parts, "nodes"); err != nil {
		return NodeInfo{}, err
	}
	return NodeInfo{Namespace: parts[3], Name: parts[4]}, nil
}

func ParsePublisherKey(key string) (PublisherInfo, error) {
	parts := strings.Split(key, "/")
	if len(parts) < 7 {
		return PublisherInfo{}, fmt.Errorf("graph: publisher key %q: expected at least 7 parts, found %d", key, len(parts))
	}
	if err := checkPrefix(parts, "publishers"); err != nil {
		return PublisherInfo{}, err
	}
	scope, err := ParseScope(parts[5])
	if err != nil {
		return PublisherInfo{}, fmt.Errorf("graph: publisher key %q: %w", key, err)
	}
	return PublisherInfo{Namespace: parts[3], Node: parts[4], Scope: scope, Path: strings.Join(parts[6:], "/")}, nil
}

func ParseParameterKey(key string) (ParameterInfo, error) {
	parts := strings.Split(key, "/")
	if len(parts) < 7 {
		return ParameterInfo{}, fmt.Errorf("graph: parameter key %q: expected at least 7 parts, found %d", key, len(parts))
	}
	if err := checkPrefix(parts, "parameters"); err != nil {
		return ParameterInfo{}, err
	}
	scope, err := ParseScope(parts[5])
	if err != nil {
		return ParameterInfo{}, fmt.Errorf("graph: parameter key %q: %w", key, err)
	}
	return ParameterInfo{Namespace: parts[3], Node: parts[4], Scope: scope, Path: strings.Join(parts[6:], "/")}, nil
}

func checkPrefix(parts []string, entity string) error {
	if parts[0] != "hulkz" || parts[1] != "graph" || parts[2] != entity {
		return fmt.Errorf("graph: invalid prefix for %s key: %q", entity, strings.Join(parts, "/"))
	}
	return nil
}
