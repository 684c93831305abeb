package n2k

import (
	"errors"
	"fmt"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
// ErrInvalidPriority and ErrInvalidPGN are both ErrInvalidID.
var (
	ErrInvalidID       = errors.New("n2k: invalid identifier")
	ErrInvalidPriority = fmt.Errorf("%w: priority out of range", ErrInvalidID)
	ErrInvalidPGN      = fmt.Errorf("%w: pgn out of range", ErrInvalidID)
	ErrPayloadTooLarge = errors.New("n2k: payload too large")
	ErrInvalidName     = errors.New("n2k: invalid NAME field")
	ErrInvalidProduct  = errors.New("n2k: invalid product information")
)
