package netmon

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"
)

// Watcher delivers hints that the platform's network state changed.
// Hints are advisory; the observer re-evaluates the full interface set on
// every hint and on its periodic safety tick.
type Watcher interface {
	Start(ctx context.Context) error
	Notify() <-chan struct{}
	Stop()
}

// pollWatcher detects changes by periodically fingerprinting the interface
// table. It is the fallback on platforms without a kernel event source and
// when the kernel subscription fails.
type pollWatcher struct {
	interval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	notify chan struct{}
	lastFP string
}

func newPollWatcher(interval time.Duration) *pollWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &pollWatcher{
		interval: interval,
		notify:   make(chan struct{}, 1),
	}
}

func (w *pollWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.lastFP = interfaceFingerprint()

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *pollWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fp := interfaceFingerprint()
			if fp != w.lastFP {
				w.lastFP = fp
				w.kick()
			}
		}
	}
}

func (w *pollWatcher) kick() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *pollWatcher) Notify() <-chan struct{} {
	return w.notify
}

func (w *pollWatcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// interfaceFingerprint summarizes the interface table so cheap string
// comparison can detect additions, removals, flag flips, and address moves.
func interfaceFingerprint() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "error:" + err.Error()
	}

	parts := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		addrCount := 0
		if addrs, err := iface.Addrs(); err == nil {
			addrCount = len(addrs)
		}
		parts = append(parts, fmt.Sprintf("%s|%d|%s|%d", iface.Name, iface.Index, iface.Flags, addrCount))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
