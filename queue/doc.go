// Package queue consumes job dispatches from NATS.
//
// Each job kind has its own subject, "<prefix>.<kind>", subscribed through a
// queue group so every dispatch is delivered to one worker only. Jobs run on
// a bounded pool; when a dispatch carries a reply subject the final outcome
// is published there as JSON.
package queue
