// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrConfig             = errors.New("invalid configuration")
	ErrSimulation         = errors.New("invalid simulation state")
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrHalted             = errors.New("instrument halted")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrDuplicateName      = errors.New("duplicate name")
	ErrPortfolioNotFound  = errors.New("portfolio not found")
	ErrNoData             = errors.New("insufficient history")
	ErrConcurrentAdvance  = errors.New("concurrent advance")
	ErrDatabaseError      = errors.New("database error")
)

// ConfigError represents invalid initialization parameters.
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field string, value interface{}, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// SimulationError represents an invalid state transition.
type SimulationError struct {
	State     string
	Operation string
	Message   string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation error [%s] %s: %s", e.State, e.Operation, e.Message)
}

func (e *SimulationError) Unwrap() error {
	return ErrSimulation
}

// NewSimulationError creates a new SimulationError.
func NewSimulationError(state, operation, message string) *SimulationError {
	return &SimulationError{
		State:     state,
		Operation: operation,
		Message:   message,
	}
}

// UnknownSymbolError is returned for symbols outside the universe or halted.
type UnknownSymbolError struct {
	Symbol string
	Reason string
	Err    error
}

func (e *UnknownSymbolError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unknown symbol %s: %s", e.Symbol, e.Reason)
	}
	return fmt.Sprintf("unknown symbol %s", e.Symbol)
}

func (e *UnknownSymbolError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnknownSymbol, e.Err}
	}
	return []error{ErrUnknownSymbol}
}

// NewUnknownSymbolError creates a new UnknownSymbolError.
func NewUnknownSymbolError(symbol, reason string) *UnknownSymbolError {
	return &UnknownSymbolError{Symbol: symbol, Reason: reason}
}

// NewHaltedError reports a trade attempted on a halted instrument.
func NewHaltedError(symbol string) *UnknownSymbolError {
	return &UnknownSymbolError{Symbol: symbol, Reason: "trading halted", Err: ErrHalted}
}

// InsufficientFundsError represents a buy whose cost exceeds the cash balance.
type InsufficientFundsError struct {
	Portfolio string
	Need      string
	Have      string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: need %s, have %s", e.Portfolio, e.Need, e.Have)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// NewInsufficientFundsError creates a new InsufficientFundsError.
func NewInsufficientFundsError(portfolio string, need, have fmt.Stringer) *InsufficientFundsError {
	return &InsufficientFundsError{
		Portfolio: portfolio,
		Need:      need.String(),
		Have:      have.String(),
	}
}

// InsufficientSharesError represents a sell larger than the held quantity.
type InsufficientSharesError struct {
	Portfolio string
	Symbol    string
	Requested int64
	Held      int64
}

func (e *InsufficientSharesError) Error() string {
	return fmt.Sprintf("insufficient shares of %s in %s: requested %d, held %d", e.Symbol, e.Portfolio, e.Requested, e.Held)
}

func (e *InsufficientSharesError) Unwrap() error {
	return ErrInsufficientShares
}

// NewInsufficientSharesError creates a new InsufficientSharesError.
func NewInsufficientSharesError(portfolio, symbol string, requested, held int64) *InsufficientSharesError {
	return &InsufficientSharesError{
		Portfolio: portfolio,
		Symbol:    symbol,
		Requested: requested,
		Held:      held,
	}
}

// DuplicateNameError is returned when a named entity already exists.
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

func (e *DuplicateNameError) Unwrap() error {
	return ErrDuplicateName
}

// NewDuplicateNameError creates a new DuplicateNameError.
func NewDuplicateNameError(kind, name string) *DuplicateNameError {
	return &DuplicateNameError{Kind: kind, Name: name}
}

// NotFoundError is returned for missing portfolios.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("portfolio %q not found", e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return ErrPortfolioNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(name string) *NotFoundError {
	return &NotFoundError{Name: name}
}

// NoDataError is returned when analytics need more trading days than exist.
type NoDataError struct {
	Operation string
	Have      int
	Need      int
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no data for %s: have %d trading days, need %d", e.Operation, e.Have, e.Need)
}

func (e *NoDataError) Unwrap() error {
	return ErrNoData
}

// NewNoDataError creates a new NoDataError.
func NewNoDataError(operation string, have, need int) *NoDataError {
	return &NoDataError{Operation: operation, Have: have, Need: need}
}

// ConcurrentAdvanceError is returned when an advance is already in flight.
type ConcurrentAdvanceError struct {
	Operation string
}

func (e *ConcurrentAdvanceError) Error() string {
	return fmt.Sprintf("concurrent advance: %s rejected while another advance is in progress", e.Operation)
}

func (e *ConcurrentAdvanceError) Unwrap() error {
	return ErrConcurrentAdvance
}

// NewConcurrentAdvanceError creates a new ConcurrentAdvanceError.
func NewConcurrentAdvanceError(operation string) *ConcurrentAdvanceError {
	return &ConcurrentAdvanceError{Operation: operation}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
