// Package storage holds the message logs that make delivery to disconnected
// participants possible.
//
// # Overview
//
// When a participant disconnects, the coordinator opens an empty log for it.
// Every broadcast accepted while it stays disconnected is appended to that
// log together with the sender and the coordinator's receipt time. On
// reconnect the log is replayed, filtered by the persistence window, and then
// deleted. Deregistering while disconnected deletes the log unreplayed.
//
//	DISCONNECT ──► Open(pid, t0)
//	MSEND      ──► Append(pid, {sender, body, t})   (for each disconnected pid)
//	RECONNECT  ──► ReplayAndClear(pid, now)         → entries with now-t <= window
//	DEREGISTER ──► Discard(pid)
//
// # Replay Window
//
// An entry that arrived at t is eligible at reconnect time now iff
// t <= now and now - t <= window. Entries outside the window are dropped,
// never delivered.
// Since eligibility only shrinks as time moves forward, the Janitor can drop
// aged-out entries early without changing what a later replay returns.
//
// # Concurrency
//
// MemoryStore guards its map with an RWMutex and each log with its own
// Mutex, so appends for different participants do not contend. The
// coordinator additionally serializes all work for a single participant, so
// a log is never opened and replayed at the same time.
//
// # Lifetime
//
// Logs are in memory only and disappear with the coordinator process.
package storage
