// Sessions is the authoritative in-memory registry of sessions. A session
// is a group of client ids with one owner; the owner is always a member
// and a session with no members left is destroyed.

package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Session is a session as exposed on the wire.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	ClientIDs []string  `json:"clientIds"`
	CreatedAt time.Time `json:"createdAt"`
}

type session struct {
	id        string
	ownerID   string
	members   map[string]struct{}
	createdAt time.Time
}

func (s *session) snapshot() Session {
	return Session{
		ID:        s.id,
		OwnerID:   s.ownerID,
		ClientIDs: lo.Keys(s.members),
		CreatedAt: s.createdAt,
	}
}

// Removal reports the outcome of pruning one client from one session.
type Removal struct {
	Session   Session
	Destroyed bool
	// Members is the post-removal membership snapshot. For a destroyed
	// session it holds the members orphaned by the destruction, if any.
	Members map[string]Client
}

// Sessions tracks every live session by id. Client ids are validated
// against the client registry at mutation time.
type Sessions struct {
	mu      sync.RWMutex
	clients *Clients
	byID    map[string]*session
	retired map[string]struct{}
}

func NewSessions(clients *Clients) *Sessions {
	return &Sessions{
		clients: clients,
		byID:    make(map[string]*session),
		retired: make(map[string]struct{}),
	}
}

// Create allocates a new session owned by ownerID, with the owner as its
// only member.
func (s *Sessions) Create(ownerID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.clients.Lookup(ownerID); err != nil {
		return Session{}, fmt.Errorf("create session: owner %s: %w", ownerID, ErrNotFound)
	}

	sess := &session{
		id:        s.freshID(),
		ownerID:   ownerID,
		members:   map[string]struct{}{ownerID: {}},
		createdAt: time.Now(),
	}
	s.byID[sess.id] = sess
	s.clients.TouchJoin(ownerID)
	return sess.snapshot(), nil
}

// freshID allocates a session id never seen before in this process run.
// Callers must hold s.mu.
func (s *Sessions) freshID() string {
	for {
		id := uuid.NewString()
		if _, dup := s.byID[id]; dup {
			continue
		}
		if _, dup := s.retired[id]; dup {
			continue
		}
		return id
	}
}

// AddMember adds clientID to the session. Adding an existing member is a
// no-op that returns the current state. The client is revalidated against
// the client registry at the moment of mutation, so an add racing a
// disconnect cannot resurrect an unregistered client past the prune that
// follows it.
func (s *Sessions) AddMember(sessionID, clientID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("add member: session %s: %w", sessionID, ErrNotFound)
	}
	if _, member := sess.members[clientID]; member {
		return sess.snapshot(), nil
	}
	if _, err := s.clients.Lookup(clientID); err != nil {
		return Session{}, fmt.Errorf("add member: client %s: %w", clientID, ErrNotFound)
	}
	sess.members[clientID] = struct{}{}
	s.clients.TouchJoin(clientID)
	return sess.snapshot(), nil
}

// RemoveMember removes clientID from the session. Removing a non-member
// is a no-op. The session is destroyed when its membership becomes empty
// or when the owner leaves; the owner must stay a member at every
// observable point, so a session cannot outlive its owner.
func (s *Sessions) RemoveMember(sessionID, clientID string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[sessionID]
	if !ok {
		return Session{}, false, fmt.Errorf("remove member: session %s: %w", sessionID, ErrNotFound)
	}
	delete(sess.members, clientID)
	if clientID == sess.ownerID || len(sess.members) == 0 {
		s.destroy(sess)
		return sess.snapshot(), true, nil
	}
	return sess.snapshot(), false, nil
}

// destroy removes the session and retires its id. Callers must hold s.mu.
func (s *Sessions) destroy(sess *session) {
	delete(s.byID, sess.id)
	s.retired[sess.id] = struct{}{}
}

// RemoveClientEverywhere prunes clientID from every session it belongs
// to, destroying sessions it owned or left empty. Used on disconnect.
// The whole prune runs under one lock so concurrent membership
// operations never observe a half-pruned client.
func (s *Sessions) RemoveClientEverywhere(clientID string) []Removal {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removals []Removal
	for _, sess := range s.byID {
		if _, member := sess.members[clientID]; !member {
			continue
		}
		delete(sess.members, clientID)
		removal := Removal{
			Session: sess.snapshot(),
			Members: s.memberSnapshot(sess),
		}
		if clientID == sess.ownerID || len(sess.members) == 0 {
			s.destroy(sess)
			removal.Destroyed = true
		}
		removals = append(removals, removal)
	}
	return removals
}

// Lookup returns the session for id.
func (s *Sessions) Lookup(sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.byID[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("lookup session %s: %w", sessionID, ErrNotFound)
	}
	return sess.snapshot(), nil
}

// SessionsOf returns the ids of every session clientID belongs to.
func (s *Sessions) SessionsOf(clientID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, sess := range s.byID {
		if _, member := sess.members[clientID]; member {
			ids = append(ids, id)
		}
	}
	return ids
}

// SnapshotMembers returns a point-in-time clientId to Client mapping for
// the session's current members.
func (s *Sessions) SnapshotMembers(sessionID string) (map[string]Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.byID[sessionID]
	if !ok {
		return nil, fmt.Errorf("snapshot session %s: %w", sessionID, ErrNotFound)
	}
	return s.memberSnapshot(sess), nil
}

// memberSnapshot builds the clientId to Client map for a session.
// Callers must hold s.mu.
func (s *Sessions) memberSnapshot(sess *session) map[string]Client {
	members := make(map[string]Client, len(sess.members))
	for id := range sess.members {
		if client, err := s.clients.Lookup(id); err == nil {
			members[id] = client
		}
	}
	return members
}

// All returns a snapshot of every live session.
func (s *Sessions) All() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Map(lo.Values(s.byID), func(sess *session, _ int) Session {
		return sess.snapshot()
	})
}
