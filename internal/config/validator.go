package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// NewValidator creates a new validator with custom validations registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("aligned_interval", validateAlignedInterval); err != nil {
		panic(fmt.Sprintf("failed to register custom validator: %v", err))
	}
	return v
}

// validateAlignedInterval validates that monitor/protection/contactor/state
// tick periods (config.go's aligned_interval fields) land on one of the
// periods this system actually schedules, all sub-second: the 10/50/100ms
// family spec.md's concurrency model names, plus their common divisors and
// multiples so a deployment can trade rate for headroom without falling off
// the allow-list entirely.
func validateAlignedInterval(fl validator.FieldLevel) bool {
	interval, ok := fl.Field().Interface().(time.Duration)
	if !ok {
		return false
	}

	validIntervals := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		20 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
	}

	return slices.Contains(validIntervals, interval)
}
