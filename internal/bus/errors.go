package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/kstaniek/go-n2k/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrCouldNotSendMessage = errors.New("could not send message")
	ErrCouldNotOpenBus     = errors.New("could not open bus")
	// ErrRetryLimit is returned when the transmitter stays busy or keeps
	// evicting frames past the configured ceilings.
	ErrRetryLimit = fmt.Errorf("%w: retry limit reached", ErrCouldNotSendMessage)
	ErrClosed     = errors.New("bus closed")
)

// OpenError wraps a backend initialization failure.
func OpenError(backend string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCouldNotOpenBus, backend, err)
}

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrRetryLimit):
		return metrics.ErrTxRetryLimit
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	case errors.Is(err, ErrCouldNotSendMessage):
		return metrics.ErrTxFatal
	default:
		return "other"
	}
}
