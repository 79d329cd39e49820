package domain

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/rivo/uniseg"
)

// MaxNameGraphemes caps display names by user-perceived characters.
const MaxNameGraphemes = 256

// forbiddenNameChars are rejected anywhere in a display name.
const forbiddenNameChars = `/()"<>\{}`

// Field names reported in ValidationError.
const (
	FieldName  = "name"
	FieldEmail = "email"
)

// validate is safe for concurrent use and caches rule parsing.
var validate = validator.New()

// ValidationError describes why a submitted field was rejected.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SubscriberName is a display name that passed validation.
type SubscriberName struct{ value string }

// String returns the validated name.
func (n SubscriberName) String() string { return n.value }

// ParseSubscriberName trims raw and validates it as a display name.
func ParseSubscriberName(raw string) (SubscriberName, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return SubscriberName{}, &ValidationError{Field: FieldName, Reason: "must not be blank"}
	}
	if uniseg.GraphemeClusterCount(s) > MaxNameGraphemes {
		return SubscriberName{}, &ValidationError{
			Field:  FieldName,
			Reason: fmt.Sprintf("must be at most %d characters", MaxNameGraphemes),
		}
	}
	if i := strings.IndexAny(s, forbiddenNameChars); i >= 0 {
		return SubscriberName{}, &ValidationError{
			Field:  FieldName,
			Reason: fmt.Sprintf("contains forbidden character %q", s[i]),
		}
	}
	return SubscriberName{value: s}, nil
}

// SubscriberEmail is an address that passed syntax validation.
type SubscriberEmail struct{ value string }

// String returns the validated address.
func (e SubscriberEmail) String() string { return e.value }

// ParseSubscriberEmail trims raw and validates it as an email address.
func ParseSubscriberEmail(raw string) (SubscriberEmail, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return SubscriberEmail{}, &ValidationError{Field: FieldEmail, Reason: "must not be blank"}
	}
	if strings.IndexFunc(s, unicode.IsSpace) >= 0 {
		return SubscriberEmail{}, &ValidationError{Field: FieldEmail, Reason: "must not contain whitespace"}
	}
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return SubscriberEmail{}, &ValidationError{Field: FieldEmail, Reason: "must be of the form local@domain"}
	}
	if !strings.Contains(s[at+1:], ".") {
		return SubscriberEmail{}, &ValidationError{Field: FieldEmail, Reason: "domain must contain a dot"}
	}
	if err := validate.Var(s, "required,email"); err != nil {
		return SubscriberEmail{}, &ValidationError{Field: FieldEmail, Reason: "is not a valid address"}
	}
	return SubscriberEmail{value: s}, nil
}

// SubscriberIdentity is the validated name/email pair submitted on sign-up.
type SubscriberIdentity struct {
	Name  SubscriberName
	Email SubscriberEmail
}

// NewSubscriberIdentity validates both fields, name first.
func NewSubscriberIdentity(name, email string) (SubscriberIdentity, error) {
	n, err := ParseSubscriberName(name)
	if err != nil {
		return SubscriberIdentity{}, err
	}
	e, err := ParseSubscriberEmail(email)
	if err != nil {
		return SubscriberIdentity{}, err
	}
	return SubscriberIdentity{Name: n, Email: e}, nil
}
