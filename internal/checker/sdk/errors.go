package sdk

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common checking conditions.
var (
	// ErrCheckerNotFound is returned when a checker cannot be found in the registry.
	ErrCheckerNotFound = errors.New("checker not found")

	// ErrCheckerAlreadyExists is returned when trying to register a duplicate checker.
	ErrCheckerAlreadyExists = errors.New("checker already exists")

	// ErrNoCheckers is returned when no checker is registered at all.
	ErrNoCheckers = errors.New("no checkers registered")

	// ErrTimeout is returned when a check exceeds its time budget.
	ErrTimeout = errors.New("check timed out")

	// ErrTextTooShort marks input below MinTextLength.
	ErrTextTooShort = errors.New("text too short")

	// ErrInvalidUTF8 marks input that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("text is not valid UTF-8")

	// ErrUnknownFinding is returned by the normalizer for finding types it does not know.
	ErrUnknownFinding = errors.New("unknown finding type")

	// ErrModuleClosed is returned when acquiring a session from a closed module.
	ErrModuleClosed = errors.New("analysis module closed")

	// ErrModuleNotLoaded is returned when the analysis module is not available.
	ErrModuleNotLoaded = errors.New("analysis module not loaded")

	// ErrNoModule is returned by module operations when no loader is configured.
	ErrNoModule = errors.New("no analysis module configured")

	// ErrSelfTestFailed is returned when a freshly loaded module fails its self-test.
	ErrSelfTestFailed = errors.New("analysis module self-test failed")
)

// StrategyError records why a single loading strategy failed.
type StrategyError struct {
	// Strategy is the name of the strategy.
	Strategy string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e StrategyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Strategy, e.Err)
}

// Unwrap returns the underlying error.
func (e StrategyError) Unwrap() error {
	return e.Err
}

// ModuleLoadError is returned when every loading strategy has been exhausted.
type ModuleLoadError struct {
	// Attempts lists every strategy that was tried, in order.
	Attempts []StrategyError
}

// Error implements the error interface.
func (e *ModuleLoadError) Error() string {
	if len(e.Attempts) == 0 {
		return "failed to load analysis module: no strategies configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("failed to load analysis module after %d strategies: %s",
		len(e.Attempts), strings.Join(parts, "; "))
}

// Unwrap returns every per-strategy cause.
func (e *ModuleLoadError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a
	}
	return errs
}

// Strategies returns the names of the attempted strategies.
func (e *ModuleLoadError) Strategies() []string {
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Strategy
	}
	return names
}

// EngineExecutionError wraps a failure of a single checker.
type EngineExecutionError struct {
	// Engine is the name of the checker that failed.
	Engine string

	// Err is the underlying error.
	Err error

	// Panicked is set when the checker panicked instead of returning an error.
	Panicked bool
}

// Error implements the error interface.
func (e *EngineExecutionError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("engine %s panicked: %v", e.Engine, e.Err)
	}
	return fmt.Sprintf("engine %s: %v", e.Engine, e.Err)
}

// Unwrap returns the underlying error.
func (e *EngineExecutionError) Unwrap() error {
	return e.Err
}

// NewEngineExecutionError creates a new engine execution error.
func NewEngineExecutionError(engine string, err error) *EngineExecutionError {
	return &EngineExecutionError{Engine: engine, Err: err}
}

// CacheError represents a non-fatal cache tier failure.
type CacheError struct {
	// Tier names the failing tier ("fast" or "slow").
	Tier string

	// Op is the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s tier %s: %v", e.Tier, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *CacheError) Unwrap() error {
	return e.Err
}

// ValidationError marks malformed input.
type ValidationError struct {
	// Reason is the underlying sentinel (ErrTextTooShort, ErrInvalidUTF8).
	Reason error

	// Length is the input length in runes.
	Length int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input (%d runes): %v", e.Length, e.Reason)
}

// Unwrap returns the reason.
func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// IsModuleLoadError checks if err is or wraps a ModuleLoadError.
func IsModuleLoadError(err error) bool {
	var loadErr *ModuleLoadError
	return errors.As(err, &loadErr)
}

// IsEngineExecutionError checks if err is or wraps an EngineExecutionError.
func IsEngineExecutionError(err error) bool {
	var execErr *EngineExecutionError
	return errors.As(err, &execErr)
}

// IsCacheError checks if err is or wraps a CacheError.
func IsCacheError(err error) bool {
	var cacheErr *CacheError
	return errors.As(err, &cacheErr)
}

// IsValidationError checks if err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// IsTimeout checks if the error is ErrTimeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
