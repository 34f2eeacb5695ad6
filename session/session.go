// Package session tracks per-connection session state and provides the
// registry used for connection bookkeeping across both protocol servers.
package session

import (
	"sync"
	"time"
)

// Protocol identifies which protocol server owns a session.
type Protocol string

const (
	ProtocolSMTP Protocol = "SMTP"
	ProtocolIMAP Protocol = "IMAP"
)

// State is the IMAP-style session state. Transitions are monotonic:
// NotAuthenticated -> Authenticated -> Selected, with Logout terminal
// from any state. SMTP sessions remain NotAuthenticated for their
// entire lifetime.
type State int

const (
	StateNotAuthenticated State = iota
	StateAuthenticated
	StateSelected
	StateLogout
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotAuthenticated:
		return "NOT_AUTHENTICATED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateSelected:
		return "SELECTED"
	case StateLogout:
		return "LOGOUT"
	default:
		return "UNKNOWN"
	}
}

// Info describes one accepted connection. It is owned by the handling
// goroutine; all mutation goes through Registry methods so Snapshot
// never observes a torn update.
type Info struct {
	ID              string
	Protocol        Protocol
	State           State
	UserID          string
	SelectedMailbox string
	Capabilities    []string
	RemoteAddr      string
	ReverseDNS      string
	CreatedAt       time.Time
	LastActivity    time.Time
}

// Registry is a concurrency-safe collection of live sessions keyed by
// session id. It exists purely for observability (last-activity
// tracking); no cross-session coordination ever goes through it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Info
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Info)}
}

// Add registers a session. CreatedAt and LastActivity are stamped if unset.
func (r *Registry) Add(info *Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if info.CreatedAt.IsZero() {
		info.CreatedAt = now
	}
	info.LastActivity = now
	r.sessions[info.ID] = info
}

// Remove deletes a session. Safe to call for ids that are already gone,
// so deferred cleanup on every exit path stays idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Touch updates a session's last-activity timestamp.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[id]; ok {
		info.LastActivity = time.Now()
	}
}

// SetState records a session state transition.
func (r *Registry) SetState(id string, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[id]; ok {
		info.State = state
	}
}

// SetUser binds an authenticated user identifier to a session.
func (r *Registry) SetUser(id, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[id]; ok {
		info.UserID = userID
	}
}

// SetReverseDNS records the PTR name resolved for a session's peer.
// Lookups run in the background, so this may land well after Add.
func (r *Registry) SetReverseDNS(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[id]; ok {
		info.ReverseDNS = name
	}
}

// SetMailbox records the selected mailbox of an IMAP session.
func (r *Registry) SetMailbox(id, mailbox string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.sessions[id]; ok {
		info.SelectedMailbox = mailbox
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns a copy of all live sessions.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.sessions))
	for _, info := range r.sessions {
		out = append(out, *info)
	}
	return out
}
