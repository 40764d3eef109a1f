//go:build linux

package realtime

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setScheduler(priority int) error {
	if priority < 1 || priority > 99 {
		return fmt.Errorf("realtime: priority %d out of range [1, 99]", priority)
	}

	attr := &unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, attr, 0); err != nil {
		return fmt.Errorf("realtime: sched_setattr: %w", err)
	}
	return nil
}

func lockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("realtime: mlockall: %w", err)
	}
	return nil
}
