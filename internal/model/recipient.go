package model

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Recipient is the target of one dispatch. Phone is the identity key.
type Recipient struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// DisplayName falls back to the phone when no name is known.
func (r Recipient) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Phone
}

func (r Recipient) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Phone, validation.Required),
	)
}

// NormalizePhone keeps digits only, plus a '+' when it is the first
// significant character.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, ch := range strings.TrimSpace(raw) {
		switch {
		case ch >= '0' && ch <= '9':
			b.WriteRune(ch)
		case ch == '+' && b.Len() == 0:
			b.WriteRune(ch)
		}
	}
	if b.String() == "+" {
		return ""
	}
	return b.String()
}
