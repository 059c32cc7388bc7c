package valuetree

import "strings"

// SegmentKind distinguishes how a path segment resolves against a running
// cycler instance and a Value tree.
type SegmentKind int

const (
	// SegmentLiteral addresses a fixed object field.
	SegmentLiteral SegmentKind = iota
	// SegmentOptional addresses a field that may be absent; traversal past
	// it becomes a monadic chain (spec.md 4.C5 rule 2).
	SegmentOptional
	// SegmentVariable expands to the running cycler instance name
	// (spec.md 4.C5 rule 3, written "$cycler_instance").
	SegmentVariable
)

// Segment is one "/"-delimited component of a Path, normalized with its
// attribute as described in spec.md 4.C5 step 1.
type Segment struct {
	Kind SegmentKind
	Name string // field name for Literal/Optional; variable name for Variable
}

// Path is a normalized, parsed accessor path such as "a?/b/$cycler_instance/c".
type Path struct {
	Raw      string
	Segments []Segment
}

const variableCyclerInstance = "cycler_instance"

// ParsePath normalizes a raw "/"-separated path into attributed segments.
// A segment ending in "?" is optional; a segment beginning with "$" is
// variable.
func ParsePath(raw string) Path {
	parts := strings.Split(raw, "/")
	segs := make([]Segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		switch {
		case strings.HasPrefix(p, "$"):
			segs = append(segs, Segment{Kind: SegmentVariable, Name: strings.TrimPrefix(p, "$")})
		case strings.HasSuffix(p, "?"):
			segs = append(segs, Segment{Kind: SegmentOptional, Name: strings.TrimSuffix(p, "?")})
		default:
			segs = append(segs, Segment{Kind: SegmentLiteral, Name: p})
		}
	}
	return Path{Raw: raw, Segments: segs}
}

// HasOptional reports whether any segment of the path is optional.
func (p Path) HasOptional() bool {
	for _, s := range p.Segments {
		if s.Kind == SegmentOptional {
			return true
		}
	}
	return false
}

// Resolve expands variable segments against instance and then traverses
// root, implementing the accessor rules of spec.md 4.C5 / 4.C2 (S2, S3):
// any absent segment, optional or not, short-circuits to (Value{}, false).
// Resolve itself does not distinguish the two cases; callers such as
// module.Bind check HasOptional to decide whether a miss is an error.
func (p Path) Resolve(root Value, instance string) (Value, bool) {
	cur := root
	sawOptional := false
	for _, seg := range p.Segments {
		name := seg.Name
		if seg.Kind == SegmentVariable {
			if seg.Name == variableCyclerInstance {
				name = instance
			} else {
				name = seg.Name
			}
		}
		field, ok := cur.Field(name)
		if !ok {
			if sawOptional {
				return Value{}, false
			}
			// Required segment absent: traversal is undefined past this
			// point for both optional and non-optional readers alike.
			return Value{}, false
		}
		if seg.Kind == SegmentOptional {
			sawOptional = true
		}
		cur = field
	}
	return cur, true
}

// Instances returns the per-declared-instance literal paths produced by
// expanding a variable segment against every known instance name
// (spec.md 4.C5 rule 3: "one accessor per declared instance name").
func (p Path) Instances(instances []string) []Path {
	hasVariable := false
	for _, s := range p.Segments {
		if s.Kind == SegmentVariable {
			hasVariable = true
			break
		}
	}
	if !hasVariable {
		return []Path{p}
	}
	out := make([]Path, 0, len(instances))
	for _, instance := range instances {
		segs := make([]Segment, len(p.Segments))
		for i, s := range p.Segments {
			if s.Kind == SegmentVariable && s.Name == variableCyclerInstance {
				segs[i] = Segment{Kind: SegmentLiteral, Name: instance}
			} else {
				segs[i] = s
			}
		}
		out = append(out, Path{Raw: p.Raw, Segments: segs})
	}
	return out
}

// String re-renders the path with its original segment annotations.
func (p Path) String() string {
	parts := make([]string, len(p.Segments))
	for i, s := range p.Segments {
		switch s.Kind {
		case SegmentOptional:
			parts[i] = s.Name + "?"
		case SegmentVariable:
			parts[i] = "$" + s.Name
		default:
			parts[i] = s.Name
		}
	}
	return strings.Join(parts, "/")
}

// CyclerInstanceOf extracts the leading "instance.rest" component of an
// outputs-router path (e.g. "Control.main.ball_position"), used to
// determine which cycler instance a Subscribe/Read request
// addresses (spec.md 4.C11: "the first path segment names the cycler
// instance"). The outputs namespace is dot-separated, distinct from the
// "/"-separated accessor paths module contexts use internally.
func CyclerInstanceOf(raw string) (instance, rest string, ok bool) {
	idx := strings.IndexByte(raw, '.')
	if idx < 0 {
		return "", "", false
	}
	return raw[:idx], raw[idx+1:], true
}
