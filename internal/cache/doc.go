// Package cache implements the versioned, named key→response stores the
// caching agent keeps its app shell and runtime entries in.
//
// A Storage holds any number of named Stores; the agent names each store
// after the VersionID it belongs to. Entries are keyed by normalized method
// and URL and remembered in insertion order, which is what FIFO eviction
// relies on. Re-putting an existing key replaces it and moves it to the end.
//
// Stores provide key-level atomicity only. Concurrent writers to the same
// key race with last-writer-wins semantics; cached entries are always
// re-derivable from the network, so no further coordination is required.
//
// Two implementations exist: MemoryStorage for a single process lifetime,
// and SQLiteStorage for a durable cache that survives restarts.
package cache
