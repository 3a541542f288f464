package cluster

import (
	"slices"
	"strings"
)

// Status is a node's place in the registry state machine:
//
//	Managed -> Healthy | Unhealthy
//	Healthy <-> Unhealthy
//	any -> Unmanaged
type Status uint8

const (
	Unmanaged Status = iota
	Managed
	Healthy
	Unhealthy
)

func (s Status) String() string {
	switch s {
	case Managed:
		return "managed"
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	}
	return "unmanaged"
}

// Selector filters candidate nodes by protocol and tags.
type Selector struct {
	protocols []Protocol
	tags      []string
}

// AnyNode matches every node.
var AnyNode = Selector{}

// NewSelector accepts nodes speaking one of protocols (none means any) and
// carrying all of tags.
func NewSelector(protocols []Protocol, tags []string) Selector {
	s := Selector{tags: normalizeTags(tags)}
	for _, p := range protocols {
		if p == Any {
			s.protocols = nil
			break
		}
		if !slices.Contains(s.protocols, p) {
			s.protocols = append(s.protocols, p)
		}
	}
	return s
}

// Match reports whether n passes the selector. A node whose protocol is
// still Any passes every protocol filter.
func (s Selector) Match(n *Node) bool {
	return s.matchProtocol(n.protocol) && n.HasTags(s.tags)
}

func (s Selector) matchProtocol(p Protocol) bool {
	return len(s.protocols) == 0 || p == Any || slices.Contains(s.protocols, p)
}

func (s Selector) String() string {
	if len(s.protocols) == 0 && len(s.tags) == 0 {
		return "any"
	}
	var parts []string
	for _, p := range s.protocols {
		parts = append(parts, p.String())
	}
	for _, t := range s.tags {
		parts = append(parts, "#"+t)
	}
	return strings.Join(parts, ",")
}
