// Package coordinator implements the relay's coordinator: the single process
// that participants register with, and that fans every broadcast out to the
// group while buffering it for members that are temporarily offline.
//
// # Overview
//
// Participants talk to the coordinator with short request/reply exchanges.
// Each inbound connection carries exactly one request, which is answered with
// exactly one ACKNOWLEDGEMENT or NEGATIVE_ACKNOWLEDGEMENT before the
// connection is closed. Anything the coordinator sends on its own initiative
// (broadcast deliveries and reconnect replays) goes over fresh outbound
// connections to the participant's declared delivery port.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            COORDINATOR              │
//	├─────────────────────────────────────┤
//	│  ┌──────────────────────────────┐   │
//	│  │  Accept loop                 │   │
//	│  │  - cancellable, polled       │   │
//	│  │  - rate limit + semaphore    │   │
//	│  └──────────────────────────────┘   │
//	│  ┌──────────────────────────────┐   │
//	│  │  Per-connection handler      │   │
//	│  │  - peek / read / ACK|NACK    │   │
//	│  │  - dispatch by type          │   │
//	│  └──────────────────────────────┘   │
//	│  ┌──────────────┐ ┌─────────────┐   │
//	│  │  Directory   │ │ storage.    │   │
//	│  │  pid → addr, │ │ Store       │   │
//	│  │  port, state │ │ pid → log   │   │
//	│  └──────────────┘ └─────────────┘   │
//	└─────────────────────────────────────┘
//
// # State Machine
//
// Per pid, driven by request type:
//
//	UNREGISTERED  --REGISTER(port)-->   CONNECTED
//	CONNECTED     --DISCONNECT-->       DISCONNECTED (empty log opened)
//	DISCONNECTED  --RECONNECT(port)-->  CONNECTED    (log replayed, dropped)
//	CONNECTED     --DEREGISTER-->       UNREGISTERED
//	DISCONNECTED  --DEREGISTER-->       UNREGISTERED (log discarded)
//	any           --MSEND-->            unchanged    (fan out / buffer)
//
// Requests that do not fit the table are acknowledged and then ignored.
// The coordinator only refuses a request (NACK) when its type is not part of
// the enumeration or its body exceeds the configured limit.
//
// # Replay Window
//
// A buffered broadcast that arrived at t is replayed at reconnect time r iff
// t <= r and r - t <= persistence_time. Times are whole seconds and r is the
// RECONNECT's receipt stamp, even when the handler then waits for its pid
// lock. The storage janitor prunes against the oldest receipt stamp of any
// RECONNECT still in flight, so pruning never changes what a replay returns.
//
// # Log Order
//
// Every request gets a receipt sequence number when it is read. Buffered
// broadcasts are inserted into a log by that number, so a log keeps receipt
// order even when two MSEND handlers reach the same pid out of order.
//
// # Concurrency
//
//   - One goroutine per accepted connection, at most MaxConnections at once
//   - Directory.Lock(pid) serializes every transition for one pid, including
//     the outbound delivery made to that pid during a broadcast or replay
//   - Handlers for different pids never contend beyond brief map locks
//   - Stop is cooperative: the accept loop exits within one poll interval and
//     in-flight handlers run to completion
//
// # Trust
//
// The pid in a request header is taken at face value. Any connection
// presenting pid 7 is treated as participant 7. Only the delivery address is
// protected, being read from the socket at REGISTER time.
package coordinator
