// Package cluster holds the participant view shared between the coordinator's
// admin API and its clients.
//
// # Overview
//
// A relay group is a hub-and-spoke topology: one coordinator, many
// participants. Participants open short-lived connections to the coordinator
// for each request; the coordinator opens short-lived connections back to
// each participant's delivery port to hand over broadcasts.
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │ - Directory  │
//	              │ - Msg Store  │
//	              └──────┬───────┘
//	      requests ▲     │     ▼ deliveries
//	┌──────────────┼─────┴──────┼──────────────┐
//	│ Participant 1│ Participant 2│ Participant 3│
//	└──────────────┴─────────────┴──────────────┘
//
// # Participant Lifecycle
//
//	unregistered ──REGISTER──► connected ◄──RECONNECT── disconnected
//	      ▲                        │  ──DISCONNECT──►       │
//	      └──────DEREGISTER────────┴─────DEREGISTER─────────┘
//
// ParticipantInfo is the read-only snapshot of one participant served by the
// coordinator's GET /participants endpoint; ListParticipants fetches it.
package cluster
