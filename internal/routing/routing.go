// Package routing maps event types to the priority-ordered list of channels
// a notification is attempted on.
package routing

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lalithlochan/cascade/internal/channel"
)

// ErrInvalidTable is returned when a routing table violates its invariants.
var ErrInvalidTable = errors.New("invalid routing table")

// Table is an immutable event type -> channel order mapping with a fallback
// for unknown event types. The zero value is not usable; build one with New,
// Default or LoadFile.
type Table struct {
	rules    map[string][]channel.Kind
	fallback []channel.Kind
}

// New validates and copies rules. Every list, including fallback, must be
// non-empty, contain only known kinds, and name each kind at most once.
func New(rules map[string][]channel.Kind, fallback []channel.Kind) (*Table, error) {
	if err := validateList("fallback", fallback); err != nil {
		return nil, err
	}

	copied := make(map[string][]channel.Kind, len(rules))
	for eventType, kinds := range rules {
		if err := validateList(eventType, kinds); err != nil {
			return nil, err
		}
		copied[eventType] = clone(kinds)
	}

	return &Table{rules: copied, fallback: clone(fallback)}, nil
}

func validateList(name string, kinds []channel.Kind) error {
	if len(kinds) == 0 {
		return fmt.Errorf("%w: %q has no channels", ErrInvalidTable, name)
	}
	seen := make(map[channel.Kind]bool, len(kinds))
	for _, k := range kinds {
		if !k.IsValid() {
			return fmt.Errorf("%w: %q references unknown channel %q", ErrInvalidTable, name, k)
		}
		if seen[k] {
			return fmt.Errorf("%w: %q lists %s more than once", ErrInvalidTable, name, k)
		}
		seen[k] = true
	}
	return nil
}

// Default returns the built-in routing table.
func Default() *Table {
	otp := []channel.Kind{channel.KindSMS, channel.KindPush, channel.KindEmail}

	t, err := New(map[string][]channel.Kind{
		"Beneficiary Added Alert": otp,
		"Fraud Alert":             otp,
		"Login OTP":               otp,
		"Transaction OTP":         otp,
		"KYC Reminder":            {channel.KindPush, channel.KindSMS},
		"Monthly Statement":       {channel.KindEmail, channel.KindPush},
		"Low Balance Alert":       {channel.KindPush, channel.KindSMS},
		"Reward Points Update":    {channel.KindPush, channel.KindEmail},
	}, []channel.Kind{channel.KindSMS})
	if err != nil {
		panic(fmt.Sprintf("default routing table: %v", err))
	}
	return t
}

// Resolve returns the channel order for eventType, or the fallback list when
// the event type is not configured. The result is never empty and is a copy
// the caller may modify.
func (t *Table) Resolve(eventType string) []channel.Kind {
	if kinds, ok := t.rules[eventType]; ok {
		return clone(kinds)
	}
	return clone(t.fallback)
}

// Fallback returns a copy of the list used for unknown event types.
func (t *Table) Fallback() []channel.Kind {
	return clone(t.fallback)
}

// EventTypes returns the configured event types in lexical order.
func (t *Table) EventTypes() []string {
	types := make([]string, 0, len(t.rules))
	for eventType := range t.rules {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}

func clone(kinds []channel.Kind) []channel.Kind {
	out := make([]channel.Kind, len(kinds))
	copy(out, kinds)
	return out
}

// fileFormat is the on-disk YAML layout:
//
//	fallback: [SMS]
//	rules:
//	  Fraud Alert: [SMS, PUSH, EMAIL]
type fileFormat struct {
	Fallback []channel.Kind            `yaml:"fallback"`
	Rules    map[string][]channel.Kind `yaml:"rules"`
}

// Parse decodes a YAML routing document.
func Parse(data []byte) (*Table, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}
	return New(f.Rules, f.Fallback)
}

// LoadFile reads a YAML routing file from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse routing file %s: %w", path, err)
	}
	return t, nil
}
