// Package notifier delivers due reminders to chats outside of the
// request/reply path.
//
// Notifications go through a bounded queue drained by a small worker pool. Each
// send waits on a token-bucket limiter and is retried with jittered exponential
// backoff. Identical notifications to the same chat inside DedupWindow are sent
// once, so a reminder re-armed by two resync passes does not ping twice.
package notifier
