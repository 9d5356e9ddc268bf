// Package validation provides common validation utilities for configuration
// parameters across the execflow library.
//
// Each helper returns a *errors.ValidationError carrying the module and field
// names so constructors can surface uniform messages.
package validation
