//go:build linux

package netmon

import (
	"context"
	"fmt"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/rennerdo30/heimdall/internal/logging"
)

// netlinkWatcher subscribes to rtnetlink multicast groups so link, address,
// and route changes surface immediately instead of waiting for a poll tick.
type netlinkWatcher struct {
	mu      sync.Mutex
	started bool
	fd      int
	wg      sync.WaitGroup

	notify chan struct{}
	logger *logging.Logger
}

func newPlatformWatcher() Watcher {
	return &netlinkWatcher{
		fd:     -1,
		notify: make(chan struct{}, 1),
		logger: logging.WithComponent("netlink"),
	}
}

func (w *netlinkWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return fmt.Errorf("netlink socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: unix.RTMGRP_LINK |
			unix.RTMGRP_IPV4_IFADDR |
			unix.RTMGRP_IPV6_IFADDR |
			unix.RTMGRP_IPV4_ROUTE |
			unix.RTMGRP_IPV6_ROUTE,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("netlink bind: %w", err)
	}

	w.fd = fd
	w.started = true

	w.wg.Add(1)
	go w.read(ctx)

	w.logger.Debug("Netlink watcher started")
	return nil
}

func (w *netlinkWatcher) read(ctx context.Context) {
	defer w.wg.Done()

	buf := make([]byte, 64*1024)
	for {
		n, _, err := unix.Recvfrom(w.fd, buf, 0)
		if err != nil {
			// Closed during Stop, or the socket died; either way the
			// observer falls back to polling.
			select {
			case <-ctx.Done():
			default:
				w.logger.Warn("Netlink read failed", "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}

		msgs, err := syscall.ParseNetlinkMessage(buf[:n])
		if err != nil {
			w.logger.Debug("Netlink parse failed", "error", err)
			continue
		}

		for _, msg := range msgs {
			switch msg.Header.Type {
			case unix.RTM_NEWLINK, unix.RTM_DELLINK,
				unix.RTM_NEWADDR, unix.RTM_DELADDR,
				unix.RTM_NEWROUTE, unix.RTM_DELROUTE:
				w.kick()
			}
		}
	}
}

func (w *netlinkWatcher) kick() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *netlinkWatcher) Notify() <-chan struct{} {
	return w.notify
}

func (w *netlinkWatcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	fd := w.fd
	w.fd = -1
	w.mu.Unlock()

	unix.Close(fd)
	w.wg.Wait()
}
