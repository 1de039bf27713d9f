package tele

import (
	"net"

	"github.com/juju/errors"
)

// replaced in tests
var (
	netInterfaces  = net.Interfaces
	interfaceAddrs = func(iface net.Interface) ([]net.Addr, error) { return iface.Addrs() }
)

var ErrLinkDown = errors.New("network link down")

// LinkUp returns nil when at least one non-loopback interface is up with an address.
func LinkUp() error {
	ifaces, err := netInterfaces()
	if err != nil {
		return errors.Annotate(err, "link check")
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := interfaceAddrs(iface)
		if err != nil {
			continue
		}
		if len(addrs) != 0 {
			return nil
		}
	}
	return ErrLinkDown
}
