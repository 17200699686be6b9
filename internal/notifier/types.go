package notifier

import "time"

// Config controls the async notification pipeline. Zero values fall back to
// defaults in Apply.
type Config struct {
	Enabled bool

	// Workers and QueueSize are read on Start only.
	Workers   int
	QueueSize int

	// RatePerSec is a token bucket shared by all workers (burst = rate).
	RatePerSec int

	// A failed send is retried RetryMax times, waiting RetryBase*2^n (capped
	// at RetryMaxDelay, jittered) in between.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// The same text to the same chat is sent once per DedupWindow. 0 disables.
	DedupWindow     time.Duration
	DedupMaxEntries int
}
