// Package live holds the data model of a TranceGuide voice session.
//
// A session connects a local microphone to a hosted realtime speech model
// through a short-lived credential. This package defines the vocabulary that
// every other layer shares: the session state machine, transcript entries,
// the detected technique, the realtime session profile, and the typed events
// emitted by the event bridge.
//
// # State Machine
//
// The session progresses through these states:
//
//	IDLE → REQUESTING_PERMISSIONS → GENERATING_TOKEN → CONNECTING → CONNECTED → IN_SESSION
//	  ↑                                                                           │
//	  └──────────────────────────── ENDING ←──────────────────────────────────────┘
//
// ERROR is reachable from any non-terminal state and is left only by an
// explicit reset back to IDLE.
//
// # Data Flow
//
//	UI action → orchestrator → connector (mic, credential, transport)
//	                                │
//	                                ▼
//	          store ← bridge (normalized events) ← realtime session
//
// # Usage
//
//	profile := live.DefaultSessionProfile()
//	agent := live.DefaultAgent()
//
//	for _, entry := range snapshot.Transcript {
//	    fmt.Printf("[%s] %s\n", entry.Role, entry.Content)
//	}
package live
