// Package eventlog keeps a bounded in-memory history of coordination
// events for the diagnostics surface.
package eventlog

import (
	"time"
)

// Entry represents one coordination event.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EntryType `json:"type"`
	Component string    `json:"component"`
	Network   string    `json:"network,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// EntryType represents the kind of coordination event.
type EntryType string

const (
	EntryTypeNetworkChanged EntryType = "network_changed"
	EntryTypeNetworkLost    EntryType = "network_lost"
	EntryTypeTunnelUp       EntryType = "tunnel_up"
	EntryTypeTunnelDown     EntryType = "tunnel_down"
	EntryTypeForeignTunnel  EntryType = "foreign_tunnel"
	EntryTypeValidation     EntryType = "validation"
	EntryTypeRecovery       EntryType = "recovery"
	EntryTypeReset          EntryType = "reset"
	EntryTypeRestart        EntryType = "restart"
)

// Summary returns a one-line description of the entry.
func (e *Entry) Summary() string {
	s := string(e.Type)
	if e.Network != "" {
		s += " " + e.Network
	}
	if e.Reason != "" {
		s += " (" + e.Reason + ")"
	}
	return s
}
