package check

import (
	"time"

	"golang.org/x/sys/unix"
)

// Timer measures wall-clock time and process CPU time of an operation.
type Timer struct {
	start   time.Time
	process time.Duration
}

// StartTimer starts a new Timer.
func StartTimer() Timer {
	return Timer{start: time.Now(), process: processTime()}
}

// Stop returns the elapsed wall-clock and process CPU time in seconds.
func (t Timer) Stop() (perf, process float64) {
	perf = time.Since(t.start).Seconds()
	process = (processTime() - t.process).Seconds()
	return perf, process
}

// Record stops the timer and stores "<prefix>.time.perf" and
// "<prefix>.time.process" in res.
func (t Timer) Record(res Results, prefix string) {
	perf, process := t.Stop()
	res[prefix+".time.perf"] = perf
	res[prefix+".time.process"] = process
}

// processTime returns user plus system CPU time consumed by this process.
func processTime() time.Duration {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
}
