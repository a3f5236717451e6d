package netmon

import (
	"net"
	"net/netip"
	"strings"
)

// Enumerator lists the current physical networks. The default
// implementation reads the OS interface table; tests substitute fakes.
type Enumerator interface {
	Networks() ([]PhysicalNetwork, error)
}

// systemEnumerator builds PhysicalNetwork handles from the OS interface
// table.
type systemEnumerator struct {
	cfg Config
}

func newSystemEnumerator(cfg Config) *systemEnumerator {
	return &systemEnumerator{cfg: cfg}
}

func (e *systemEnumerator) Networks() ([]PhysicalNetwork, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	networks := make([]PhysicalNetwork, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			// Interface vanished mid-enumeration; skip it.
			continue
		}

		n := classifyInterface(e.cfg, iface.Name, iface.Index, iface.MTU, iface.Flags, addrs)
		if len(n.Addresses) == 0 {
			continue
		}
		networks = append(networks, n)
	}

	return networks, nil
}

// classifyInterface derives a PhysicalNetwork from raw interface data.
// Tunnel classification uses the configured name prefixes plus the
// point-to-point flag; the internet capability is a heuristic (at least
// one global unicast address) that active probing can later refine.
func classifyInterface(cfg Config, name string, index, mtu int, flags net.Flags, addrs []net.Addr) PhysicalNetwork {
	n := PhysicalNetwork{
		Name:  name,
		Index: index,
		MTU:   mtu,
	}

	hasGlobal := false
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipNet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			continue
		}
		n.Addresses = append(n.Addresses, ip)
		if !ip.IsLoopback() {
			hasGlobal = true
		}
	}

	n.Caps.Tunnel = hasPrefix(name, cfg.TunnelPrefixes) || flags&net.FlagPointToPoint != 0
	n.Caps.Expensive = hasPrefix(name, cfg.ExpensivePrefixes)
	n.Caps.Internet = hasGlobal && !n.Caps.Tunnel

	return n
}

func hasPrefix(name string, prefixes []string) bool {
	lower := strings.ToLower(name)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
