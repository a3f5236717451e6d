package config

// DefaultServiceConfigTemplate is the fully commented default configuration
// for the Heimdall supervisor.
const DefaultServiceConfigTemplate = `# Heimdall Configuration
# Heimdall keeps a tunneling engine's egress binding in sync with the OS's
# physical networks and self-heals when the tunnel stops passing traffic.

# Tunneling engine
# The engine actually forwards traffic; Heimdall only steers it. The
# "static" engine performs no tunneling and is useful for dry runs.
engine:
  type: static                # static or wireguard
  queue_size: 64              # Buffer for the serialized engine call queue
  # wireguard:
  #   private_key: "..."              # Base64 (wg genkey) or hex
  #   address: "10.64.0.2/32"         # Local tunnel address
  #   mtu: 1420
  #   dns: ["10.64.0.1"]
  #   peer:
  #     public_key: "..."
  #     endpoint: "vpn.example.com:51820"
  #     allowed_ips: ["0.0.0.0/0"]
  #     keepalive: "25s"

# Network observation
# How physical networks are discovered, classified, and probed.
network:
  poll_interval: "10s"        # Safety re-evaluation even without OS hints
  probe_timeout: "3s"         # Per-candidate connectivity probe bound
  probe_targets:              # DNS servers used to confirm real connectivity;
    - "1.1.1.1:53"            # empty list disables active probing
    - "8.8.8.8:53"
  # own_interface: "heimdall0"  # This service's tunnel interface, exempt
  #                             # from foreign-tunnel reporting
  # tunnel_prefixes:            # Interface name prefixes treated as tunnels
  #   - "wg"
  #   - "tun"
  # expensive_prefixes:         # Prefixes treated as metered paths
  #   - "wwan"

# Transition coordination
# When the engine is told to rebind its egress path.
transition:
  startup_window: "3s"        # Suppress all rebinds this long after tunnel start
  debounce: "500ms"           # Coalesce repeated same-network notifications

# Link health
# Detects "tunnel up but traffic not passing" and schedules recovery.
link_health:
  grace_delay: "5s"           # How long a link may stay unvalidated
  check_interval: "15s"       # Engine link-state poll interval (when supported)

# Reset escalation
# Debounce and failure policy for engine state resets.
reset:
  debounce: "5s"              # Collapse non-forced requests into one delayed reset
  min_force_interval: "50ms"  # Shortest spacing between two engine resets
  failure_threshold: 3        # Consecutive failures before escalation
  failure_window: "30s"       # Time without a success before escalation
  release_pause: "100ms"      # Pause between connection release and reset

# Diagnostics REST API
api:
  enabled: true
  listen: "127.0.0.1:7390"    # Local only by default
  # token: "secret"           # Bearer token; empty disables auth

# Prometheus metrics (served on the API listener at /metrics)
metrics:
  enabled: true
  collection_interval: "15s"  # For low-power devices use 60s-300s

# Coordination event log
events:
  max_entries: 500            # Ring buffer capacity

# Logging
logging:
  level: info                 # debug, info, warn, error
  format: text                # text or json
  output: stdout              # stdout, stderr, or a file path
`
