package hashiru

import (
	"fmt"
	"strings"
)

// Mode is a feature flag gating a class of operations. Modes are applied as
// a set: enabling one does not imply another.
type Mode string

const (
	ModeAgentCreation  Mode = "ENABLE_AGENT_CREATION"
	ModeLocalAgents    Mode = "ENABLE_LOCAL_AGENTS"
	ModeCloudAgents    Mode = "ENABLE_CLOUD_AGENTS"
	ModeToolCreation   Mode = "ENABLE_TOOL_CREATION"
	ModeToolInvocation Mode = "ENABLE_TOOL_INVOCATION"
	ModeResourceBudget Mode = "ENABLE_RESOURCE_BUDGET"
	ModeEconomyBudget  Mode = "ENABLE_ECONOMY_BUDGET"
	ModeMemory         Mode = "ENABLE_MEMORY"
)

// AllModes lists every recognized mode.
var AllModes = []Mode{
	ModeAgentCreation,
	ModeLocalAgents,
	ModeCloudAgents,
	ModeToolCreation,
	ModeToolInvocation,
	ModeResourceBudget,
	ModeEconomyBudget,
	ModeMemory,
}

// ModeSet is the set of enabled modes.
type ModeSet map[Mode]bool

// NewModeSet builds a set from the listed modes.
func NewModeSet(modes ...Mode) ModeSet {
	s := make(ModeSet, len(modes))
	for _, m := range modes {
		s[m] = true
	}
	return s
}

// Enabled reports whether m is in the set.
func (s ModeSet) Enabled(m Mode) bool { return s[m] }

// List returns the enabled modes in declaration order.
func (s ModeSet) List() []Mode {
	var out []Mode
	for _, m := range AllModes {
		if s[m] {
			out = append(out, m)
		}
	}
	return out
}

// Clone copies the set so callers can mutate without aliasing.
func (s ModeSet) Clone() ModeSet {
	out := make(ModeSet, len(s))
	for m, v := range s {
		out[m] = v
	}
	return out
}

// ParseMode converts a mode name (case-insensitive) into a Mode.
func ParseMode(name string) (Mode, error) {
	upper := Mode(strings.ToUpper(strings.TrimSpace(name)))
	for _, m := range AllModes {
		if m == upper {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", name)
}

// ParseModes converts a list of names into a ModeSet, rejecting unknowns.
func ParseModes(names []string) (ModeSet, error) {
	s := make(ModeSet, len(names))
	for _, name := range names {
		m, err := ParseMode(name)
		if err != nil {
			return nil, err
		}
		s[m] = true
	}
	return s, nil
}
