//go:build !linux && !darwin

package netmon

import "time"

func newPlatformWatcher() Watcher {
	return newPollWatcher(2 * time.Second)
}
