//go:build !linux

package socketcan

import (
	"errors"

	"github.com/kstaniek/go-n2k/internal/can"
)

// ErrUnsupported is returned by Open on platforms without SocketCAN.
var ErrUnsupported = errors.New("socketcan: not supported on this platform")

// Device is a placeholder so callers compile on every platform.
type Device struct{}

func Open(string) (*Device, error) { return nil, ErrUnsupported }

func (d *Device) Close() error                           { return ErrUnsupported }
func (d *Device) Receive() (can.Frame, error)            { return can.Frame{}, ErrUnsupported }
func (d *Device) Transmit(can.Frame) (*can.Frame, error) { return nil, ErrUnsupported }
func (d *Device) FilterGroups() []can.FilterGroup        { return nil }
func (d *Device) AddFilter(can.Filter) error             { return ErrUnsupported }
func (d *Device) ClearFilters() error                    { return ErrUnsupported }
