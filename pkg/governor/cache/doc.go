// Package cache memoizes completion results and deduplicates identical
// in-flight calls.
//
// A Cache combines two mechanisms:
//
//   - A Store holding finished results keyed by cache key. Entries carry a
//     fixed expiry set when they are written; expired entries read as a
//     miss and are reclaimed by Sweep. MemoryStore keeps entries in process
//     memory, RedisStore shares them across replicas through Redis.
//   - A process-local flight table. AwaitOrClaim atomically either claims
//     the key (the caller becomes the owner and must Release the flight) or
//     returns the flight already running for it. Waiters block in Wait
//     until the owner releases, and every waiter receives the same Outcome.
//
// Caching is best effort. Store failures are reported to the caller of
// Cache.Store but are never meant to fail a request.
package cache
