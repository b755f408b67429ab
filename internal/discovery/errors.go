package discovery

import "errors"

var (
	// ErrDiscovery is returned when a pass fails. Partial results are discarded.
	ErrDiscovery = errors.New("discovery: pass failed")

	// ErrPassRunning is returned by Scheduler.Trigger while a pass is in progress.
	ErrPassRunning = errors.New("discovery: pass already running")

	// ErrNotStarted is returned by Scheduler.Trigger before Start.
	ErrNotStarted = errors.New("discovery: scheduler not started")
)
