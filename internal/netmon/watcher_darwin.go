//go:build darwin

package netmon

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rennerdo30/heimdall/internal/logging"
)

// routeWatcher polls the system's default route. macOS has no stable
// public Go surface for SystemConfiguration notifications, so detecting a
// changed default interface via `route -n get default` is the portable way.
type routeWatcher struct {
	interval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	notify    chan struct{}
	lastIface string
	logger    *logging.Logger
}

func newPlatformWatcher() Watcher {
	return &routeWatcher{
		interval: 2 * time.Second,
		notify:   make(chan struct{}, 1),
		logger:   logging.WithComponent("routewatch"),
	}
}

func (w *routeWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}
	w.started = true

	ctx, w.cancel = context.WithCancel(ctx)
	w.lastIface = defaultRouteInterfaceDarwin()

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *routeWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			iface := defaultRouteInterfaceDarwin()
			if iface != w.lastIface {
				w.logger.Debug("Default route changed", "from", w.lastIface, "to", iface)
				w.lastIface = iface
				w.kick()
			}
		}
	}
}

func (w *routeWatcher) kick() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *routeWatcher) Notify() <-chan struct{} {
	return w.notify
}

func (w *routeWatcher) Stop() {
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

// defaultRouteInterfaceDarwin returns the interface name of the system
// default route, or "" when there is none.
func defaultRouteInterfaceDarwin() string {
	out, err := exec.Command("route", "-n", "get", "default").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(line, "interface:"); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}
