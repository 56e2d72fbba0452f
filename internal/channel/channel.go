// Package channel defines delivery channel kinds and the adapter capability
// the dispatch engine invokes for each of them.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a delivery transport.
type Kind string

const (
	KindSMS   Kind = "SMS"
	KindEmail Kind = "EMAIL"
	KindPush  Kind = "PUSH"
	KindInbox Kind = "INBOX"
)

// ErrUnknownKind is returned when a string does not name a supported channel.
var ErrUnknownKind = errors.New("unknown channel kind")

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	switch k {
	case KindSMS, KindEmail, KindPush, KindInbox:
		return true
	}
	return false
}

// ParseKind accepts any casing and surrounding whitespace.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// UnmarshalText lets kinds be decoded from YAML and JSON strings.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Status is the outcome of a single adapter call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Result is what an adapter reports back for one send.
type Result struct {
	Status Status
	Reason string

	// Err is the transport error behind a failure. It is nil for
	// validation failures and is never persisted.
	Err error
}

func Success(reason string) Result {
	return Result{Status: StatusSuccess, Reason: reason}
}

func Failure(reason string) Result {
	return Result{Status: StatusFailed, Reason: reason}
}

// ProviderFailure builds a failed result for a transport error.
func ProviderFailure(kind Kind, err error) Result {
	return Result{
		Status: StatusFailed,
		Reason: fmt.Sprintf("%s provider error: %v", kind, err),
		Err:    err,
	}
}

func (r Result) Succeeded() bool {
	return r.Status == StatusSuccess
}

// Adapter delivers a message over one channel kind.
//
// Send must always return a Result. Missing or malformed identifiers are
// reported as a failed Result with a specific reason, never as a panic.
// Implementations must not share mutable state with other adapters.
type Adapter interface {
	Kind() Kind
	Send(ctx context.Context, identifier, message string) Result
}

// Registry maps channel kinds to adapters. It is built once at startup and
// is read-only afterwards.
type Registry struct {
	adapters map[Kind]Adapter
}

// NewRegistry registers adapters by their kind. A later adapter for the
// same kind replaces an earlier one.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[Kind]Adapter, len(adapters))
	for _, a := range adapters {
		if a == nil {
			continue
		}
		m[a.Kind()] = a
	}
	return &Registry{adapters: m}
}

// Lookup returns the adapter for kind, or false when none is registered.
func (r *Registry) Lookup(kind Kind) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.adapters[kind]
	return a, ok
}

// Kinds returns the registered kinds in lexical order.
func (r *Registry) Kinds() []Kind {
	if r == nil {
		return nil
	}
	kinds := make([]Kind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
