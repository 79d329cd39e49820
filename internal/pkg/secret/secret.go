// Package secret wraps sensitive configuration values so they cannot be
// printed, logged or serialized by accident.
package secret

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

const mask = "[REDACTED]"

// Value holds a secret string. Every formatting path prints a mask; only
// Expose returns the real value.
type Value struct {
	v string
}

// New wraps s.
func New(s string) Value { return Value{v: s} }

// Expose returns the underlying secret. Call it only where the value is
// handed to the system that needs it.
func (s Value) Expose() string { return s.v }

// IsZero reports whether no secret was set.
func (s Value) IsZero() bool { return s.v == "" }

func (s Value) String() string { return mask }
func (s Value) GoString() string { return mask }

// MarshalJSON always emits the mask.
func (s Value) MarshalJSON() ([]byte, error) { return json.Marshal(mask) }

// MarshalYAML always emits the mask.
func (s Value) MarshalYAML() (interface{}, error) { return mask, nil }

// UnmarshalYAML reads a plain scalar.
func (s *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	s.v = raw
	return nil
}
