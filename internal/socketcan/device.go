//go:build linux

package socketcan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-n2k/internal/can"
	"github.com/kstaniek/go-n2k/internal/metrics"
)

// maxFilters is CAN_RAW_FILTER_MAX from linux/can/raw.h.
const maxFilters = 512

// Device is a raw SocketCAN socket bound to one interface. It implements
// can.Device and can.FilteredReceiver.
type Device struct {
	fd int

	mu      sync.Mutex
	filters []can.Filter
}

func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 0); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("disable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// Receive reads one classic CAN frame from the raw CAN socket.
func (d *Device) Receive() (can.Frame, error) {
	var buf [unix.CAN_MTU]byte // classic CAN MTU = 16 bytes
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return can.Frame{}, can.ErrWouldBlock
		}
		metrics.IncError(metrics.ErrSocketCANRead)
		return can.Frame{}, err
	}
	if n != unix.CAN_MTU {
		metrics.IncMalformed()
		return can.Frame{}, fmt.Errorf("short read: %d", n)
	}
	return decode(buf), nil
}

// Transmit writes one frame. The kernel queues frames itself, so nothing is
// ever evicted; a full queue is reported as can.ErrWouldBlock.
func (d *Device) Transmit(fr can.Frame) (*can.Frame, error) {
	if err := fr.Validate(); err != nil {
		return nil, err
	}
	buf := encode(fr)
	_, err := unix.Write(d.fd, buf[:])
	if err != nil {
		if errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.EAGAIN) {
			return nil, can.ErrWouldBlock
		}
		metrics.IncError(metrics.ErrSocketCANWrite)
		return nil, err
	}
	return nil, nil
}

func (d *Device) FilterGroups() []can.FilterGroup {
	return []can.FilterGroup{{NumFilters: maxFilters, Extended: true, Mask: can.MaskIndividual, RTR: can.RTRConfigurable}}
}

func (d *Device) AddFilter(f can.Filter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.filters) >= maxFilters {
		return fmt.Errorf("socketcan: %d filters in use", len(d.filters))
	}
	next := append(append([]can.Filter(nil), d.filters...), f)
	if err := d.apply(next); err != nil {
		return err
	}
	d.filters = next
	return nil
}

// ClearFilters installs an empty filter list, which makes the kernel drop
// every frame for this socket.
func (d *Device) ClearFilters() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.apply(nil); err != nil {
		return err
	}
	d.filters = nil
	return nil
}

func (d *Device) apply(filters []can.Filter) error {
	raw := make([]unix.CanFilter, 0, len(filters))
	for _, f := range filters {
		raw = append(raw, rawFilter(f))
	}
	if err := unix.SetsockoptCanRawFilter(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, raw); err != nil {
		return fmt.Errorf("setsockopt(CAN_RAW_FILTER): %w", err)
	}
	return nil
}

// rawFilter maps a can.Filter onto struct can_filter. The frame format and
// RTR bit become part of the mask unless the filter accepts everything.
func rawFilter(f can.Filter) unix.CanFilter {
	var id, mask uint32
	if f.Extended {
		id = f.ID&unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG
	} else {
		id = f.ID & unix.CAN_SFF_MASK
	}
	mask = f.Mask
	if f.Mask != 0 {
		mask |= unix.CAN_EFF_FLAG
	}
	switch {
	case f.RemoteOnly:
		id |= unix.CAN_RTR_FLAG
		mask |= unix.CAN_RTR_FLAG
	case !f.AllowRemote:
		mask |= unix.CAN_RTR_FLAG
	}
	return unix.CanFilter{Id: id, Mask: mask}
}

// struct can_frame (linux/can.h):
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	can_dlc u8    [4]
//	pad     3B    [5:8]
//	data    [8]   [8:16]
//
// The kernel provides fields in host byte order, little-endian on the
// supported targets.
func decode(buf [unix.CAN_MTU]byte) can.Frame {
	var fr can.Frame
	fr.CANID = binary.LittleEndian.Uint32(buf[0:4])
	dlc := buf[4]
	if dlc > can.MaxDLC {
		dlc = can.MaxDLC
	}
	fr.Len = dlc
	copy(fr.Data[:], buf[8:8+int(dlc)])
	return fr
}

func encode(fr can.Frame) [unix.CAN_MTU]byte {
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], fr.CANID)
	buf[4] = fr.Len
	copy(buf[8:], fr.Data[:fr.Len])
	return buf
}
