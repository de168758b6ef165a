// Package notifier delivers operator alerts over the chat transport.
//
// Alerts are queued, rate limited with a token bucket and deduplicated by
// key within a window, so a feeder that keeps failing produces one message
// per window instead of one per fire. Sends are attempted once.
package notifier
