package can

import "errors"

// ErrWouldBlock is returned by a Transmitter or Receiver when the hardware
// cannot accept or deliver a frame right now. The operation may be retried.
var ErrWouldBlock = errors.New("can: would block")

// ErrClosed is returned by operations on a closed device.
var ErrClosed = errors.New("can: device closed")

// Transmitter puts frames into a controller's transmit buffer.
//
// If the buffer is full the implementation may replace a pending frame of
// lower priority with f and return the replaced frame; the caller owns it and
// must resubmit it. This avoids priority inversion on controllers with few
// transmit mailboxes.
//
//	nil, nil            accepted
//	&evicted, nil       accepted, evicted must be resubmitted
//	nil, ErrWouldBlock  no room, retry f later
//	nil, other          f could not be sent
type Transmitter interface {
	Transmit(f Frame) (evicted *Frame, err error)
}

// Receiver returns received frames. Receive returns ErrWouldBlock when no
// frame is available on non-blocking implementations.
type Receiver interface {
	Receive() (Frame, error)
}

// FilteredReceiver is a Receiver with hardware acceptance filters.
type FilteredReceiver interface {
	Receiver
	// FilterGroups describes the filter banks of the controller.
	FilterGroups() []FilterGroup
	// AddFilter adds and enables a filter.
	AddFilter(f Filter) error
	// ClearFilters removes all filters. No frames are received afterwards
	// until a filter is added.
	ClearFilters() error
}

// Device bundles both directions and a Close, which is what backends hand to
// the bus layer.
type Device interface {
	Transmitter
	Receiver
	Close() error
}
