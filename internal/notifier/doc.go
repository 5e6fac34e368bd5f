// Package notifier delivers operator notifications (rare pokemon sightings,
// worker cooldowns) without blocking the scan loop.
//
// # Pipeline
//
// Notify computes a dedup key, drops repeats inside the dedup window and
// queues one job per matching sender. A small worker pool drains the queue
// through a shared token bucket and retries failed sends with jittered
// exponential backoff.
//
// # Dedup
//
// Suppression windows live in memory and, when PersistDedup is set, in the
// storage layer so a restart does not re-announce the same encounter.
//
// # History
//
// The service keeps a short in-memory history of delivered messages for the
// status endpoint.
package notifier
