package netmon

import (
	"fmt"
	"net/netip"
	"strings"
)

// Capabilities describes what a physical network can do, as far as the
// platform reports or probing has confirmed.
type Capabilities struct {
	// Internet indicates the network is believed to reach the internet.
	Internet bool `json:"internet"`

	// Tunnel indicates the network is itself a tunnel-type interface.
	Tunnel bool `json:"tunnel"`

	// Validated indicates end-to-end connectivity has been confirmed by
	// an active probe.
	Validated bool `json:"validated"`

	// Expensive indicates a metered or otherwise costly path.
	Expensive bool `json:"expensive"`
}

// PhysicalNetwork is a handle to one OS-level network path. Instances are
// created and destroyed by observation; holders only cache references.
type PhysicalNetwork struct {
	// Name is the interface name (e.g., "wlan0", "en0").
	Name string `json:"name"`

	// Index is the OS interface index.
	Index int `json:"index"`

	// MTU is the interface MTU as reported by the OS.
	MTU int `json:"mtu"`

	// Addresses holds the interface's unicast addresses.
	Addresses []netip.Addr `json:"addresses"`

	// Caps is the network's capability set.
	Caps Capabilities `json:"capabilities"`
}

// Same reports whether two handles refer to the same network identity.
// Identity is the interface name plus index; capability churn on the same
// interface does not change identity.
func (n PhysicalNetwork) Same(other PhysicalNetwork) bool {
	return n.Name == other.Name && n.Index == other.Index
}

// Usable reports whether the network can carry tunnel egress traffic:
// it must reach the internet and must not itself be a tunnel.
func (n PhysicalNetwork) Usable() bool {
	return n.Caps.Internet && !n.Caps.Tunnel
}

// SourceAddr returns an address suitable for binding outbound probes,
// preferring IPv4.
func (n PhysicalNetwork) SourceAddr() (netip.Addr, bool) {
	for _, a := range n.Addresses {
		if a.Is4() {
			return a, true
		}
	}
	if len(n.Addresses) > 0 {
		return n.Addresses[0], true
	}
	return netip.Addr{}, false
}

// String returns a concise human-readable description.
func (n PhysicalNetwork) String() string {
	var flags []string
	if n.Caps.Internet {
		flags = append(flags, "internet")
	}
	if n.Caps.Tunnel {
		flags = append(flags, "tunnel")
	}
	if n.Caps.Validated {
		flags = append(flags, "validated")
	}
	if n.Caps.Expensive {
		flags = append(flags, "expensive")
	}
	return fmt.Sprintf("%s#%d[%s]", n.Name, n.Index, strings.Join(flags, ","))
}
