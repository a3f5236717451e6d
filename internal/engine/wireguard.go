package engine

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/curve25519"
	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/tun/netstack"

	"github.com/rennerdo30/heimdall/internal/logging"
	"github.com/rennerdo30/heimdall/internal/netmon"
	"github.com/rennerdo30/heimdall/internal/util"
)

// handshakeValidWindow is the maximum handshake age for the link to count
// as validated. WireGuard rekeys roughly every two minutes under traffic.
const handshakeValidWindow = 3 * time.Minute

// WireGuardPeer is the remote peer configuration.
type WireGuardPeer struct {
	PublicKey           string   `yaml:"public_key"`
	Endpoint            string   `yaml:"endpoint"`
	AllowedIPs          []string `yaml:"allowed_ips"`
	PersistentKeepalive int      `yaml:"persistent_keepalive"`
	PresharedKey        string   `yaml:"preshared_key,omitempty"`
}

// WireGuardConfig configures the userspace WireGuard engine.
type WireGuardConfig struct {
	PrivateKey string        `yaml:"private_key"`
	Address    string        `yaml:"address"` // local tunnel address, e.g. "10.64.0.2/32"
	DNS        []string      `yaml:"dns"`
	MTU        int           `yaml:"mtu"`
	Peer       WireGuardPeer `yaml:"peer"`
}

// Validate validates the configuration and fills in defaults.
func (c *WireGuardConfig) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("wireguard: private_key is required")
	}
	if _, err := keyToHex(c.PrivateKey); err != nil {
		return fmt.Errorf("wireguard: private_key: %w", err)
	}
	if c.Peer.PublicKey == "" {
		return fmt.Errorf("wireguard: peer.public_key is required")
	}
	if _, err := keyToHex(c.Peer.PublicKey); err != nil {
		return fmt.Errorf("wireguard: peer.public_key: %w", err)
	}
	if c.Peer.Endpoint == "" {
		return fmt.Errorf("wireguard: peer.endpoint is required")
	}
	if c.Address == "" {
		return fmt.Errorf("wireguard: address is required")
	}
	if _, err := netip.ParsePrefix(c.Address); err != nil {
		return fmt.Errorf("wireguard: address: %w", err)
	}

	if c.MTU == 0 {
		c.MTU = 1420
	}
	if c.Peer.PersistentKeepalive == 0 {
		c.Peer.PersistentKeepalive = 25
	}
	if len(c.Peer.AllowedIPs) == 0 {
		c.Peer.AllowedIPs = []string{"0.0.0.0/0", "::/0"}
	}

	return nil
}

// WireGuardEngine runs a userspace WireGuard device on a netstack TUN, so
// the supervisor can drive a real tunnel without OS privileges. The
// kernel-level virtual interface is outside this engine's responsibility.
type WireGuardEngine struct {
	config WireGuardConfig

	mu      sync.Mutex
	running bool
	dev     *device.Device
	tnet    *netstack.Net
	started time.Time

	logger *logging.Logger
}

// NewWireGuardEngine creates a WireGuard engine from a validated
// configuration.
func NewWireGuardEngine(cfg WireGuardConfig) (*WireGuardEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WireGuardEngine{
		config: cfg,
		logger: logging.WithComponent("engine-wireguard"),
	}, nil
}

// Name returns the engine name.
func (e *WireGuardEngine) Name() string {
	return "wireguard"
}

// Start creates the netstack TUN and brings the device up.
func (e *WireGuardEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	localAddr, err := netip.ParsePrefix(e.config.Address)
	if err != nil {
		return NewCallError("wireguard", "parse address", err)
	}

	dnsAddrs := make([]netip.Addr, 0, len(e.config.DNS))
	for _, s := range e.config.DNS {
		addr, parseErr := netip.ParseAddr(s)
		if parseErr != nil {
			return NewCallError("wireguard", "parse dns", parseErr)
		}
		dnsAddrs = append(dnsAddrs, addr)
	}

	tun, tnet, err := netstack.CreateNetTUN(
		[]netip.Addr{localAddr.Addr()},
		dnsAddrs,
		e.config.MTU,
	)
	if err != nil {
		return NewCallError("wireguard", "create tun", err)
	}

	dev := device.NewDevice(tun, conn.NewDefaultBind(), device.NewLogger(device.LogLevelSilent, ""))

	ipcConfig, err := e.buildIPCConfig()
	if err != nil {
		dev.Close()
		return NewCallError("wireguard", "build config", err)
	}
	if err := dev.IpcSet(ipcConfig); err != nil {
		dev.Close()
		return NewCallError("wireguard", "configure device", err)
	}

	if err := dev.Up(); err != nil {
		dev.Close()
		return NewCallError("wireguard", "bring up device", err)
	}

	e.dev = dev
	e.tnet = tnet
	e.running = true
	e.started = time.Now()

	e.logger.Info("WireGuard engine started",
		"endpoint", e.config.Peer.Endpoint,
		"mtu", e.config.MTU)
	return nil
}

// buildIPCConfig renders the device configuration in UAPI format. Keys are
// accepted in base64 (standard tooling format) or hex and always passed to
// the device as hex.
func (e *WireGuardEngine) buildIPCConfig() (string, error) {
	privateHex, err := keyToHex(e.config.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("private key: %w", err)
	}
	publicHex, err := keyToHex(e.config.Peer.PublicKey)
	if err != nil {
		return "", fmt.Errorf("peer public key: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "private_key=%s\n", privateHex)
	fmt.Fprintf(&b, "public_key=%s\n", publicHex)

	if e.config.Peer.PresharedKey != "" {
		presharedHex, pskErr := keyToHex(e.config.Peer.PresharedKey)
		if pskErr != nil {
			return "", fmt.Errorf("preshared key: %w", pskErr)
		}
		fmt.Fprintf(&b, "preshared_key=%s\n", presharedHex)
	}

	fmt.Fprintf(&b, "endpoint=%s\n", e.config.Peer.Endpoint)
	for _, allowed := range e.config.Peer.AllowedIPs {
		fmt.Fprintf(&b, "allowed_ip=%s\n", allowed)
	}
	if e.config.Peer.PersistentKeepalive > 0 {
		fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", e.config.Peer.PersistentKeepalive)
	}

	return b.String(), nil
}

// Stop closes the device.
func (e *WireGuardEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}

	if e.dev != nil {
		e.dev.Close()
		e.dev = nil
	}
	e.tnet = nil
	e.running = false

	e.logger.Info("WireGuard engine stopped")
	return nil
}

// RebindEgress re-opens the device's UDP sockets so they attach to the
// current routing state. The candidate list is advisory: a userspace bind
// cannot pin an interface, but re-opening after a path change is what
// moves traffic off a dead socket.
func (e *WireGuardEngine) RebindEgress(ctx context.Context, candidates []netmon.PhysicalNetwork) error {
	e.mu.Lock()
	dev := e.dev
	running := e.running
	e.mu.Unlock()

	if !running || dev == nil {
		return NewCallError("wireguard", "rebind", ErrNotStarted)
	}

	if len(candidates) == 0 {
		e.logger.Warn("Rebind with no egress candidates; leaving sockets as-is")
		return nil
	}

	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	if err := dev.BindUpdate(); err != nil {
		return NewCallError("wireguard", "rebind", err)
	}

	e.logger.Info("Egress sockets rebound", "candidates", names)
	return nil
}

// ResetNetworkStack cycles the device, forcing fresh handshakes and
// discarding all session state.
func (e *WireGuardEngine) ResetNetworkStack(ctx context.Context) error {
	e.mu.Lock()
	dev := e.dev
	running := e.running
	e.mu.Unlock()

	if !running || dev == nil {
		return NewCallError("wireguard", "reset", ErrNotStarted)
	}

	if err := dev.Down(); err != nil {
		return NewCallError("wireguard", "reset down", err)
	}
	if err := dev.Up(); err != nil {
		return NewCallError("wireguard", "reset up", err)
	}

	e.logger.Info("Network stack reset", "reason", util.GetReason(ctx))
	return nil
}

// LinkValidated reports whether the last peer handshake is recent enough
// for the link to be passing traffic.
func (e *WireGuardEngine) LinkValidated(ctx context.Context) (bool, error) {
	e.mu.Lock()
	dev := e.dev
	running := e.running
	e.mu.Unlock()

	if !running || dev == nil {
		return false, NewCallError("wireguard", "link state", ErrNotStarted)
	}

	state, err := dev.IpcGet()
	if err != nil {
		return false, NewCallError("wireguard", "link state", err)
	}

	handshake := parseLastHandshake(state)
	if handshake.IsZero() {
		return false, nil
	}
	return time.Since(handshake) < handshakeValidWindow, nil
}

// WireGuardStatus is a point-in-time view of the engine.
type WireGuardStatus struct {
	Running       bool      `json:"running"`
	PublicKey     string    `json:"public_key"`
	Endpoint      string    `json:"endpoint"`
	LastHandshake time.Time `json:"last_handshake,omitempty"`
	RxBytes       int64     `json:"rx_bytes"`
	TxBytes       int64     `json:"tx_bytes"`
	Uptime        string    `json:"uptime,omitempty"`
}

// Status returns engine state for diagnostics. The local public key is
// derived rather than stored.
func (e *WireGuardEngine) Status() WireGuardStatus {
	e.mu.Lock()
	dev := e.dev
	running := e.running
	started := e.started
	e.mu.Unlock()

	status := WireGuardStatus{
		Running:  running,
		Endpoint: e.config.Peer.Endpoint,
	}
	if pub, err := DerivePublicKey(e.config.PrivateKey); err == nil {
		status.PublicKey = pub
	}
	if !running || dev == nil {
		return status
	}

	status.Uptime = time.Since(started).Round(time.Second).String()
	if state, err := dev.IpcGet(); err == nil {
		status.LastHandshake = parseLastHandshake(state)
		status.RxBytes, status.TxBytes = parseTraffic(state)
	}
	return status
}

// parseLastHandshake extracts the peer handshake time from UAPI output.
func parseLastHandshake(state string) time.Time {
	for _, line := range strings.Split(state, "\n") {
		if value, ok := strings.CutPrefix(line, "last_handshake_time_sec="); ok {
			sec, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil || sec == 0 {
				return time.Time{}
			}
			return time.Unix(sec, 0)
		}
	}
	return time.Time{}
}

// parseTraffic extracts rx/tx byte counters from UAPI output.
func parseTraffic(state string) (rx, tx int64) {
	for _, line := range strings.Split(state, "\n") {
		if value, ok := strings.CutPrefix(line, "rx_bytes="); ok {
			rx, _ = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		}
		if value, ok := strings.CutPrefix(line, "tx_bytes="); ok {
			tx, _ = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		}
	}
	return rx, tx
}

// keyToHex normalizes a WireGuard key to the hex form the UAPI expects.
// Base64 (44 chars) and hex (64 chars) inputs are accepted.
func keyToHex(key string) (string, error) {
	key = strings.TrimSpace(key)

	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && len(raw) == 32 {
		return hex.EncodeToString(raw), nil
	}

	if len(key) == 64 {
		if raw, err := hex.DecodeString(key); err == nil && len(raw) == 32 {
			return key, nil
		}
	}

	return "", fmt.Errorf("not a valid 32-byte key")
}

// DerivePublicKey computes the base64 public key for a private key given
// in base64 or hex.
func DerivePublicKey(privateKey string) (string, error) {
	privHex, err := keyToHex(privateKey)
	if err != nil {
		return "", err
	}
	priv, err := hex.DecodeString(privHex)
	if err != nil {
		return "", err
	}

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}
