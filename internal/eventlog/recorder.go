package eventlog

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds event recorder configuration.
type Config struct {
	MaxEntries int
}

// Recorder collects coordination events into bounded storage and feeds an
// optional live sink.
type Recorder struct {
	storage   *Storage
	idCounter atomic.Uint64

	mu   sync.RWMutex
	sink func(Entry)
}

// NewRecorder creates a new event recorder.
func NewRecorder(cfg Config) *Recorder {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	return &Recorder{
		storage: NewStorage(cfg.MaxEntries),
	}
}

// SetSink installs a callback invoked for every recorded entry. The sink
// must not block; it runs on the recording caller's goroutine.
func (r *Recorder) SetSink(sink func(Entry)) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

func (r *Recorder) add(entry Entry) {
	entry.ID = r.nextID()
	entry.Timestamp = time.Now()
	r.storage.Add(entry)

	r.mu.RLock()
	sink := r.sink
	r.mu.RUnlock()
	if sink != nil {
		sink(entry)
	}
}

// RecordNetworkChanged records adoption of a new underlying network.
func (r *Recorder) RecordNetworkChanged(network string) {
	r.add(Entry{Type: EntryTypeNetworkChanged, Component: "netmon", Network: network})
}

// RecordNetworkLost records total loss of usable networks.
func (r *Recorder) RecordNetworkLost() {
	r.add(Entry{Type: EntryTypeNetworkLost, Component: "netmon"})
}

// RecordTunnelUp records a tunnel-type interface appearing.
func (r *Recorder) RecordTunnelUp(network string) {
	r.add(Entry{Type: EntryTypeTunnelUp, Component: "netmon", Network: network})
}

// RecordTunnelDown records a tunnel-type interface disappearing.
func (r *Recorder) RecordTunnelDown(network string) {
	r.add(Entry{Type: EntryTypeTunnelDown, Component: "netmon", Network: network})
}

// RecordForeignTunnel records a tunnel that is neither ours nor part of
// the startup snapshot.
func (r *Recorder) RecordForeignTunnel(network string, detail string) {
	r.add(Entry{Type: EntryTypeForeignTunnel, Component: "foreign", Network: network, Detail: detail})
}

// RecordValidation records a link validation state change.
func (r *Recorder) RecordValidation(validated bool) {
	detail := "link validated"
	if !validated {
		detail = "link not validated"
	}
	r.add(Entry{Type: EntryTypeValidation, Component: "linkhealth", Detail: detail})
}

// RecordRecovery records a link health recovery firing.
func (r *Recorder) RecordRecovery(network string) {
	r.add(Entry{Type: EntryTypeRecovery, Component: "linkhealth", Network: network, Forced: true})
}

// RecordReset records a reset request.
func (r *Recorder) RecordReset(reason string, forced bool) {
	r.add(Entry{Type: EntryTypeReset, Component: "reset", Reason: reason, Forced: forced})
}

// RecordRestart records an escalation to service restart.
func (r *Recorder) RecordRestart(reason string) {
	r.add(Entry{Type: EntryTypeRestart, Component: "supervisor", Reason: reason})
}

// RecordError records a failure as an event on the named component.
func (r *Recorder) RecordError(component string, typ EntryType, err error) {
	r.add(Entry{Type: typ, Component: component, Error: err.Error()})
}

// GetEntries returns all entries, oldest first.
func (r *Recorder) GetEntries() []Entry {
	return r.storage.GetAll()
}

// GetLastEntries returns the last n entries, newest first.
func (r *Recorder) GetLastEntries(n int) []Entry {
	return r.storage.GetLast(n)
}

// FindByType returns entries of a specific type.
func (r *Recorder) FindByType(typ EntryType) []Entry {
	return r.storage.Find(func(e Entry) bool {
		return e.Type == typ
	})
}

// FindErrors returns entries carrying an error.
func (r *Recorder) FindErrors() []Entry {
	return r.storage.Find(func(e Entry) bool {
		return e.Error != ""
	})
}

// Clear removes all entries.
func (r *Recorder) Clear() {
	r.storage.Clear()
}

// Count returns the number of stored entries.
func (r *Recorder) Count() int {
	return r.storage.Count()
}

func (r *Recorder) nextID() string {
	id := r.idCounter.Add(1)
	return fmt.Sprintf("%d-%d", time.Now().Unix(), id)
}
