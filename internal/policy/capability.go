package policy

import (
	"errors"
	"fmt"
	"strings"
)

// Capability names one stage a policy or component may provide.
type Capability uint8

const (
	CapabilitySensing Capability = 1 << iota
	CapabilityDetection
	CapabilityDiagnosis
	CapabilityResolution
	CapabilityActionNaming
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapabilitySensing, "sensing"},
	{CapabilityDetection, "detection"},
	{CapabilityDiagnosis, "diagnosis"},
	{CapabilityResolution, "resolution"},
	{CapabilityActionNaming, "action-naming"},
}

func (c Capability) String() string {
	for _, n := range capabilityNames {
		if n.c == c {
			return n.name
		}
	}
	return fmt.Sprintf("capability(%d)", uint8(c))
}

// CapabilitySet is the set of capabilities a policy declares.
type CapabilitySet uint8

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= CapabilitySet(c)
	}
	return s
}

// Has reports whether c is declared.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// With returns a copy of s including c.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	return s | CapabilitySet(c)
}

// Names lists declared capabilities in pipeline order.
func (s CapabilitySet) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, n := range capabilityNames {
		if s.Has(n.c) {
			names = append(names, n.name)
		}
	}
	return names
}

func (s CapabilitySet) String() string {
	return "[" + strings.Join(s.Names(), ",") + "]"
}

// ErrUnsupported is matched by every UnsupportedError.
var ErrUnsupported = errors.New("unsupported operation")

// UnsupportedError reports that a capability was invoked on something that does not provide it.
type UnsupportedError struct {
	Capability Capability
	Component  string
}

func (e *UnsupportedError) Error() string {
	if e.Component == "" {
		return fmt.Sprintf("%s: %v", e.Capability, ErrUnsupported)
	}
	return fmt.Sprintf("%s: %s: %v", e.Component, e.Capability, ErrUnsupported)
}

// Is lets errors.Is(err, ErrUnsupported) match.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// Unsupported constructs an UnsupportedError.
func Unsupported(component string, c Capability) error {
	return &UnsupportedError{Capability: c, Component: component}
}
