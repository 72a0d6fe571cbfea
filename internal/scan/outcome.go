package scan

import (
	"encoding/json"
	"fmt"
)

// OutcomeKind tags the variant held by an Outcome.
type OutcomeKind uint8

const (
	kindUnset OutcomeKind = iota
	// KindSuccess carries a probe result.
	KindSuccess
	// KindFailure means the probe ran but was inconclusive.
	KindFailure
	// KindDisabled means the probe was turned off.
	KindDisabled
)

func (k OutcomeKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindDisabled:
		return "disabled"
	default:
		return "unset"
	}
}

// Outcome is the result slot of one probe: a value, a neutral failure with a
// reason, or disabled. The zero value is unset and never leaves the
// orchestrator.
type Outcome[T any] struct {
	kind   OutcomeKind
	value  T
	reason string
}

// Success wraps a probe result.
func Success[T any](v T) Outcome[T] {
	return Outcome[T]{kind: KindSuccess, value: v}
}

// Failure records an inconclusive probe.
func Failure[T any](reason string) Outcome[T] {
	return Outcome[T]{kind: KindFailure, reason: reason}
}

// Disabled records a probe that was turned off.
func Disabled[T any]() Outcome[T] {
	return Outcome[T]{kind: KindDisabled}
}

// Kind reports which variant o holds.
func (o Outcome[T]) Kind() OutcomeKind { return o.kind }

// Value returns the result and whether o is a success.
func (o Outcome[T]) Value() (T, bool) {
	return o.value, o.kind == KindSuccess
}

// Reason returns the failure reason, empty for other variants.
func (o Outcome[T]) Reason() string { return o.reason }

func (o Outcome[T]) IsSuccess() bool  { return o.kind == KindSuccess }
func (o Outcome[T]) IsFailure() bool  { return o.kind == KindFailure }
func (o Outcome[T]) IsDisabled() bool { return o.kind == KindDisabled }

type failureJSON struct {
	Error string `json:"error"`
}

// MarshalJSON renders a success as the result, a failure as
// {"error": reason} and a disabled probe as null.
func (o Outcome[T]) MarshalJSON() ([]byte, error) {
	switch o.kind {
	case KindSuccess:
		return json.Marshal(o.value)
	case KindFailure:
		return json.Marshal(failureJSON{Error: o.reason})
	case KindDisabled:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("marshal outcome: %s", o.kind)
	}
}

// UnmarshalJSON reverses MarshalJSON. An object with a single "error" key is
// read as a failure.
func (o *Outcome[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Disabled[T]()
		return nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil && len(probe) == 1 {
		if raw, ok := probe["error"]; ok {
			var reason string
			if err := json.Unmarshal(raw, &reason); err == nil {
				*o = Failure[T](reason)
				return nil
			}
		}
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Success(v)
	return nil
}

// Status is the display form used by the CLI summary and progress output.
func (o Outcome[T]) Status() string {
	switch o.kind {
	case KindSuccess:
		return "ok"
	case KindFailure:
		return "error"
	case KindDisabled:
		return "skipped"
	default:
		return "pending"
	}
}
