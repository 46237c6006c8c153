// Package relay implements the ingestion-to-delivery pipeline.
//
// Inbound messages are classified into an Envelope by the Handler and appended
// to the Dispatcher's pending queue. A single Dispatcher loop drains the queue
// one envelope per cycle, and only once the cooldown since the previous
// delivery attempt has elapsed.
//
// Delivery semantics
//
// Delivery is at-most-once. An envelope is removed from the queue before the
// sink is called and is never re-queued; a failed attempt still advances the
// cooldown. Bounded retries, when wanted, live in RetrySink, which wraps the
// sink without changing the one-attempt-per-cycle contract of the loop.
//
// The queue is unbounded and in-memory only.
package relay
