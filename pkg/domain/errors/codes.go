// Package errors provides coded errors for the allocation engine.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeNotFound          Code = "NOT_FOUND"

	// Ledger invariant violations
	CodeOverconsumption     Code = "OVERCONSUMPTION"
	CodeExclusivityConflict Code = "EXCLUSIVITY_CONFLICT"
	CodeDependencyProtected Code = "DEPENDENCY_PROTECTED"
)
