// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleaner

import "fmt"

// ConfigError means user configuration could not be parsed or was ambiguous.
// It is always fatal to the run: the engine never guesses at what a pattern
// list was supposed to mean.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid cleaner config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}

// FetchError means the queue snapshot could not be retrieved. Fatal to the
// run; nothing was mutated.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch queue: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	_, ok := target.(*FetchError)
	return ok
}

// LedgerError means the strike storage transaction failed. Fatal to the run:
// matched items are reported as skipped rather than removed without strike
// protection.
type LedgerError struct {
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("strike ledger transaction failed: %v", e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

func (e *LedgerError) Is(target error) bool {
	_, ok := target.(*LedgerError)
	return ok
}
