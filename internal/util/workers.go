package util

import "runtime"

// MinWorkers is the floor for the worker pool size.
const MinWorkers = 2

// WorkerCount picks the default worker pool size from CPU parallelism:
// GOMAXPROCS, but never fewer than MinWorkers.
func WorkerCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < MinWorkers {
		return MinWorkers
	}
	return p
}
