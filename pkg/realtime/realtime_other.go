//go:build !linux

package realtime

import "fmt"

func setScheduler(priority int) error {
	return fmt.Errorf("realtime: SCHED_FIFO not supported on this platform")
}

func lockMemory() error {
	return fmt.Errorf("realtime: mlockall not supported on this platform")
}
