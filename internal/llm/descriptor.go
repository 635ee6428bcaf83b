package llm

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults applied by Normalized.
const (
	DefaultTemperature     = 0.7
	DefaultMaxTokens       = 2048
	DefaultTimeout         = 30 * time.Second
	DefaultMaxRetries      = 3
	DefaultQuantization    = "Q4_K_M"
	DefaultOllamaServerURL = "http://localhost:11434"
)

// Descriptor is the immutable configuration of one backend. Updating
// configuration means building a new descriptor, never mutating one a
// backend already holds.
type Descriptor struct {
	Kind Kind `validate:"required,oneof=ollama device"`

	// Remote only. Scheme plus host, no trailing slash.
	ServerURL string `validate:"required_if=Kind ollama,omitempty,url"`

	Model string `validate:"required"`

	// Device only, e.g. "Q4_K_M".
	Quantization string

	Temperature float64 `validate:"gte=0,lte=2"`
	MaxTokens   int     `validate:"gte=0"`
	Timeout     time.Duration
	MaxRetries  int `validate:"gte=0"`

	// A disabled descriptor tells the session to hold no backend.
	Enabled bool
}

var descriptorValidate = validator.New()

// Normalized returns a copy with structural defaults filled in. Zero
// Temperature and zero MaxRetries are meaningful (deterministic
// sampling, no retries) and are left alone; the config layer applies
// user-facing defaults before a descriptor gets here.
func (d Descriptor) Normalized() Descriptor {
	if d.MaxTokens == 0 {
		d.MaxTokens = DefaultMaxTokens
	}
	if d.Timeout == 0 {
		d.Timeout = DefaultTimeout
	}
	if d.Kind == KindDevice && d.Quantization == "" {
		d.Quantization = DefaultQuantization
	}
	d.ServerURL = strings.TrimRight(d.ServerURL, "/")
	return d
}

// Validate checks the descriptor and returns a configuration_error
// naming the first offending field.
func (d Descriptor) Validate() error {
	if err := descriptorValidate.Struct(d); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return Errorf(ErrorTypeConfiguration, "invalid descriptor: field %s failed rule %q", first.Field(), first.Tag())
		}
		return WrapError(ErrorTypeConfiguration, "invalid descriptor", err)
	}
	return nil
}

// SameModel reports whether two descriptors resolve to the same loaded
// model. Used by the on-device backend to make reconfiguration
// idempotent.
func (d Descriptor) SameModel(other Descriptor) bool {
	return d.Model == other.Model && d.Quantization == other.Quantization
}
