// Package notify fans domain notifications out to the observers a tracking
// session owns.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/gamelink/internal/record"
)

// Notification is a domain event raised for the host.
type Notification interface {
	Name() string
}

// Notification names as seen by the host.
const (
	NameExternalEvent        = "externalEvent"
	NameModuleStarted        = "moduleStarted"
	NameMicroGameOpened      = "microGameOpened"
	NameFitnessContentOpened = "fitnessContentOpened"
	NamePageViewed           = "pageViewed"
	NameLanguageChanged      = "languageChanged"
	NameUserLoggedIn         = "userLoggedIn"
	NameServerTimeUpdated    = "serverTimeUpdated"
	NameModuleSessionEnded   = "moduleSessionEnded"
)

// ExternalEvent passes an envelope type the tracker does not model through
// to the host.
type ExternalEvent struct {
	Type string `json:"type"`
}

// ModuleStarted is raised once per module session id.
type ModuleStarted struct {
	ModuleSessionID string `json:"module_session_id"`
	ModuleID        string `json:"module_id"`
}

// MicroGameOpened carries the decoded module_data payload.
type MicroGameOpened struct {
	Payload record.MicroGamePayload `json:"payload"`
}

// FitnessContentOpened carries the opened content identifier.
type FitnessContentOpened struct {
	Identifier string `json:"identifier"`
}

// PageViewed is raised for every page view.
type PageViewed struct {
	Session record.Session `json:"session"`
}

// LanguageChanged is raised when the latest known language changes.
type LanguageChanged struct {
	Language string `json:"language"`
}

// UserLoggedIn is raised once when a device flow login completes.
type UserLoggedIn struct {
	RedirectURL string `json:"redirect_url"`
}

// ServerTimeUpdated is raised after each successful server time fetch.
type ServerTimeUpdated struct {
	ServerTime time.Time `json:"server_time"`
}

// ModuleSessionEnded is raised after a module session end was reported.
type ModuleSessionEnded struct {
	ModuleSessionID string `json:"module_session_id"`
	Score           int64  `json:"score"`
	Completed       bool   `json:"completed"`
}

func (ExternalEvent) Name() string        { return NameExternalEvent }
func (ModuleStarted) Name() string        { return NameModuleStarted }
func (MicroGameOpened) Name() string      { return NameMicroGameOpened }
func (FitnessContentOpened) Name() string { return NameFitnessContentOpened }
func (PageViewed) Name() string           { return NamePageViewed }
func (LanguageChanged) Name() string      { return NameLanguageChanged }
func (UserLoggedIn) Name() string         { return NameUserLoggedIn }
func (ServerTimeUpdated) Name() string    { return NameServerTimeUpdated }
func (ModuleSessionEnded) Name() string   { return NameModuleSessionEnded }

// Publisher raises notifications. Implemented by Hub.
type Publisher interface {
	Publish(n Notification)
}

// Observer receives notifications. Observers run on the publishing
// goroutine and must not block.
type Observer func(Notification)

type subscription struct {
	id int
	fn Observer
}

// Hub is an explicit observer list.
//
// Thread-safety: Subscribe, unsubscribe, Publish and Close are safe for
// concurrent use. Observers are called without the lock held, so they may
// unsubscribe themselves.
type Hub struct {
	mu     sync.Mutex
	subs   []subscription
	nextID int
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers fn and returns a func that removes it again.
// Subscribing to a closed hub is a no-op.
func (h *Hub) Subscribe(fn Observer) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return func() {}
	}

	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscription{id: id, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, s := range h.subs {
			if s.id == id {
				h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers n to every observer in subscription order.
func (h *Hub) Publish(n Notification) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	subs := make([]subscription, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	slog.Debug("notification published", "name", n.Name(), "observers", len(subs))

	for _, s := range subs {
		s.fn(n)
	}
}

// Len returns the number of observers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes every observer. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subs = nil
}

// Recorder is an observer that keeps every notification it sees.
// Not safe for concurrent use; intended for loop-driven tests and replays.
type Recorder struct {
	Notifications []Notification
}

// Observe implements Observer.
func (r *Recorder) Observe(n Notification) {
	r.Notifications = append(r.Notifications, n)
}

// Names returns the names of the recorded notifications in order.
func (r *Recorder) Names() []string {
	names := make([]string, len(r.Notifications))
	for i, n := range r.Notifications {
		names[i] = n.Name()
	}
	return names
}

// Count returns how many recorded notifications have the given name.
func (r *Recorder) Count(name string) int {
	c := 0
	for _, n := range r.Notifications {
		if n.Name() == name {
			c++
		}
	}
	return c
}
