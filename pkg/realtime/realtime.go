// Package realtime elevates the host process for control-loop duty:
// SCHED_FIFO scheduling and locked memory on Linux. Elsewhere a request
// for either returns an error; a zero Config is a no-op everywhere.
// Failures here degrade latency but never correctness, so callers log
// and continue.
package realtime

// Config selects the realtime posture.
type Config struct {
	// Priority is the SCHED_FIFO priority (1-99). Zero disables the
	// scheduler change.
	Priority int

	// LockMemory locks current and future pages into RAM.
	LockMemory bool
}

// Setup applies the configuration to the current process.
func Setup(cfg Config) error {
	if cfg.Priority > 0 {
		if err := setScheduler(cfg.Priority); err != nil {
			return err
		}
	}
	if cfg.LockMemory {
		if err := lockMemory(); err != nil {
			return err
		}
	}
	return nil
}
