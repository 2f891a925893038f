// Package protocol defines the typed messages exchanged between pages and
// the background caching agent.
//
// Pages send commands (Message) to a specific worker; workers and the host
// send events and notifications back. Neither direction is acknowledged.
package protocol

// Command actions accepted by a worker.
const (
	ActionSkipWaiting = "skipWaiting"
)

// Notification types delivered to pages.
const (
	TypeCacheUpdated = "CACHE_UPDATED"
)

// UnknownVersion is reported when a notification carries no version.
const UnknownVersion = "unknown"

// Message is a page → agent command.
type Message struct {
	Action string `json:"action"`
	// Version optionally pins the command to one worker version.
	Version string `json:"version,omitempty"`
}

// SkipWaiting builds the skip-waiting command for the given worker version.
func SkipWaiting(version string) Message {
	return Message{Action: ActionSkipWaiting, Version: version}
}

// Notification is an agent → page message.
type Notification struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// CacheUpdated builds the version-changed notification.
func CacheUpdated(version string) Notification {
	return Notification{Type: TypeCacheUpdated, Version: version}
}

// State is the lifecycle state of one worker instance.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name so JSON payloads stay readable.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CanTransition reports whether a worker may move from s to next.
// States only move forward; any non-terminal state may become redundant.
func (s State) CanTransition(next State) bool {
	if s == StateRedundant {
		return false
	}
	if next == StateRedundant {
		return true
	}
	return next == s+1
}

// EventKind identifies a lifecycle event delivered to pages.
type EventKind int

const (
	EventUpdateFound EventKind = iota
	EventStateChange
	EventControllerChange
	EventMessage
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventUpdateFound:
		return "UPDATE_FOUND"
	case EventStateChange:
		return "STATE_CHANGE"
	case EventControllerChange:
		return "CONTROLLER_CHANGE"
	case EventMessage:
		return "MESSAGE"
	default:
		return "UNKNOWN"
	}
}
