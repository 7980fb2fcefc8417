package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuote quote service failed or returned no output.
	ErrQuote = errors.New("quote failed")
	// ErrInsufficientFunds wallet holds less than required.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrApprovalFailed token approval was rejected or not confirmed.
	ErrApprovalFailed = errors.New("approval failed")
	// ErrSwapFailed matches every *SwapError.
	ErrSwapFailed = errors.New("swap failed")
	// ErrConfiguration required settings are missing or invalid.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidPercentage sell percentage outside 1..100.
	ErrInvalidPercentage = errors.New("invalid percentage")
	// ErrNothingToSell held balance is zero.
	ErrNothingToSell = errors.New("nothing to sell")
	// ErrNotFound unknown asset id.
	ErrNotFound = errors.New("asset not found")
	// ErrStore durable store failed.
	ErrStore = errors.New("store error")
	// ErrRunning operation is not allowed while the bot is running.
	ErrRunning = errors.New("bot is running")
)

// SwapFailureKind classifies a failed swap.
type SwapFailureKind string

const (
	SwapFailureSlippage        SwapFailureKind = "slippage"
	SwapFailurePoolUnavailable SwapFailureKind = "pool_unavailable"
	SwapFailureGeneric         SwapFailureKind = "generic"
)

// SwapError is returned when a swap is rejected or reverts.
type SwapError struct {
	Kind SwapFailureKind
	Err  error
}

// NewSwapError wraps err with the given failure kind.
func NewSwapError(kind SwapFailureKind, err error) *SwapError {
	return &SwapError{Kind: kind, Err: err}
}

func (e *SwapError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("swap failed (%s)", e.Kind)
	}

	return fmt.Sprintf("swap failed (%s): %v", e.Kind, e.Err)
}

func (e *SwapError) Unwrap() error { return e.Err }

// Is reports ErrSwapFailed as a match for any swap error.
func (e *SwapError) Is(target error) bool {
	return target == ErrSwapFailed
}

// ErrorKind returns a short label for metrics and events.
func ErrorKind(err error) string {
	var swapErr *SwapError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &swapErr):
		return "swap_" + string(swapErr.Kind)
	case errors.Is(err, ErrQuote):
		return "quote"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrApprovalFailed):
		return "approval"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrInvalidPercentage):
		return "invalid_percentage"
	case errors.Is(err, ErrNothingToSell):
		return "nothing_to_sell"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStore):
		return "store"
	default:
		return "other"
	}
}

// ClassifySwapError maps a raw swap or revert error onto the error taxonomy.
// Errors that are already classified are returned unchanged.
func ClassifySwapError(err error) error {
	if err == nil {
		return nil
	}
	var swapErr *SwapError
	if errors.As(err, &swapErr) || errors.Is(err, ErrInsufficientFunds) {
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "STF"), strings.Contains(msg, "SafeTransferFrom"),
		strings.Contains(msg, "transfer amount exceeds balance"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case strings.Contains(msg, "Too little received"), strings.Contains(msg, "slippage"):
		return NewSwapError(SwapFailureSlippage, err)
	case strings.Contains(msg, "Pool not found"), strings.Contains(msg, "pool not found"),
		strings.Contains(msg, "no pool"):
		return NewSwapError(SwapFailurePoolUnavailable, err)
	default:
		return NewSwapError(SwapFailureGeneric, err)
	}
}
