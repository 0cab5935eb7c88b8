package core

import "errors"

var (
	// ErrConfigurationInvalid indicates malformed tier, rule, or threshold
	// configuration. It is fatal: the subsystem must not initialize.
	ErrConfigurationInvalid = errors.New("configuration invalid")

	// ErrRegistryUnavailable indicates the session registry could not be
	// consulted. Callers fail closed (reject) on this error.
	ErrRegistryUnavailable = errors.New("session registry unavailable")
)
