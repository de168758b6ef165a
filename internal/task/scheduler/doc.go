// Package scheduler owns the daily feeding timers and periodic maintenance
// intervals. It only decides when something fires; execution is handed to
// the task engine.
//
// Feeding timers are keyed by schedule id and named "feed:<id>". Upserting
// an id replaces its previous entry, so one id never fires twice per
// minute of day.
package scheduler
