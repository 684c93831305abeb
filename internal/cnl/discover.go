package cnl

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/kstaniek/go-n2k/internal/logging"
)

// ServiceType is the mDNS service CAN gateways announce themselves under.
const ServiceType = "_can-server._tcp"

var ErrNoGateway = errors.New("cannelloni: no gateway found")

// Discover browses mDNS for a gateway and returns the host:port of the first
// one that resolves to an address.
func Discover(ctx context.Context, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return "", err
	}
	for {
		select {
		case <-ctx.Done():
			return "", ErrNoGateway
		case e, ok := <-entries:
			if !ok {
				return "", ErrNoGateway
			}
			if addr := entryAddr(e); addr != "" {
				logging.L().Info("gateway_discovered", "instance", e.Instance, "addr", addr, "txt", e.Text)
				return addr, nil
			}
		}
	}
}

func entryAddr(e *zeroconf.ServiceEntry) string {
	if e == nil || e.Port == 0 {
		return ""
	}
	port := strconv.Itoa(e.Port)
	if len(e.AddrIPv4) > 0 {
		return net.JoinHostPort(e.AddrIPv4[0].String(), port)
	}
	if len(e.AddrIPv6) > 0 {
		return net.JoinHostPort(e.AddrIPv6[0].String(), port)
	}
	return ""
}
