// The router is the protocol state machine: it applies each inbound
// message to the registries and fans the resulting notifications out to
// the affected clients. It holds no state of its own beyond the live
// connection table; sessions and clients live in the registries.
//
// Every handler runs under one router mutex, covering the registry
// mutation, the membership snapshot, and the outbound enqueue. All of
// that is non-blocking, and the total order it produces keeps every
// clientMap snapshot consistent with registry state at the moment the
// notification is queued.

package relay

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"session-relay/internal/protocol"
	"session-relay/internal/registry"
)

// ErrUnauthorized means a client attempted an owner-only action.
var ErrUnauthorized = errors.New("unauthorized")

// Options tune router behavior.
type Options struct {
	// Echo controls whether a broadcasting sender receives its own
	// BroadcastFromSession.
	Echo bool
	// SendBuffer is the per-client outbound queue length.
	SendBuffer int
}

// Router routes inbound messages between connected clients.
type Router struct {
	clients  *registry.Clients
	sessions *registry.Sessions
	opts     Options
	log      zerolog.Logger

	mu    sync.Mutex
	peers map[string]*Client
}

func NewRouter(clients *registry.Clients, sessions *registry.Sessions, opts Options, log zerolog.Logger) *Router {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	return &Router{
		clients:  clients,
		sessions: sessions,
		opts:     opts,
		log:      log.With().Str("component", "router").Logger(),
		peers:    make(map[string]*Client),
	}
}

// Connect registers a new client for the given remote address and
// returns its connection handle. The assigned identity is announced to
// the client with a ClientConnect frame.
func (r *Router) Connect(remoteAddr string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := r.clients.Register(remoteAddr)
	peer := newClient(record.ID, r.opts.SendBuffer)
	r.peers[record.ID] = peer

	r.log.Info().Str("client", record.ID).Str("remote", remoteAddr).Msg("client connected")
	r.deliver(record.ID, protocol.ClientConnect{Type: protocol.TypeClientConnect, Client: record})
	return peer
}

// Disconnect tears a client down: unregisters it, prunes it from every
// session, and notifies remaining members. Idempotent, so duplicate
// disconnect signals from the transport are harmless.
func (r *Router) Disconnect(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[clientID]
	if !ok {
		return
	}
	delete(r.peers, clientID)
	peer.close()

	r.clients.Unregister(clientID)
	for _, removal := range r.sessions.RemoveClientEverywhere(clientID) {
		if removal.Destroyed {
			r.log.Info().Str("session", removal.Session.ID).Msg("session destroyed")
			if len(removal.Members) == 0 {
				continue
			}
			// Owner left; the orphaned members still get notified.
		}
		r.deliverToSet(lo.Keys(removal.Members), protocol.ClientLeftSession{
			Type:           protocol.TypeClientLeftSession,
			ClientID:       clientID,
			SessionID:      removal.Session.ID,
			SessionOwnerID: removal.Session.OwnerID,
			ClientMap:      removal.Members,
		})
	}
	r.log.Info().Str("client", clientID).Msg("client disconnected")
}

// HandleFrame decodes one inbound frame from senderID and applies it.
// Decode failures cost that single frame only: the sender gets an Error
// reply and the connection stays up.
func (r *Router) HandleFrame(senderID string, frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		r.log.Warn().Str("client", senderID).Err(err).Msg("undecodable frame")
		r.mu.Lock()
		r.sendError(senderID, err.Error())
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case protocol.CreateSession:
		r.handleCreateSession(senderID)
	case protocol.UpdateClient:
		r.handleUpdateClient(senderID, m)
	case protocol.AddSessionClient:
		r.handleAddSessionClient(senderID, m)
	case protocol.BroadcastToSession:
		r.handleBroadcastToSession(senderID, m)
	default:
		r.sendError(senderID, "unhandled message type "+msg.MsgType())
	}
}

// Notice fans an operator notice out to every connected client.
func (r *Router) Notice(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	notice := protocol.Info{Type: protocol.TypeInfo, Message: message}
	r.deliverToSet(lo.Keys(r.peers), notice)
}

func (r *Router) handleCreateSession(senderID string) {
	sess, err := r.sessions.Create(senderID)
	if err != nil {
		r.sendError(senderID, "create session: unknown client")
		return
	}
	r.log.Info().Str("session", sess.ID).Str("owner", senderID).Msg("session created")

	members, _ := r.sessions.SnapshotMembers(sess.ID)
	r.deliver(senderID, protocol.ClientJoinedSession{
		Type:           protocol.TypeClientJoinedSession,
		ClientID:       senderID,
		SessionID:      sess.ID,
		SessionOwnerID: sess.OwnerID,
		ClientMap:      members,
	})
}

func (r *Router) handleUpdateClient(senderID string, msg protocol.UpdateClient) {
	if err := r.clients.Rename(senderID, msg.Name); err != nil {
		r.sendError(senderID, "update client: unknown client")
		return
	}

	// Peers in every session holding the sender get a refreshed
	// membership snapshot so the new name is visible.
	for _, sessionID := range r.sessions.SessionsOf(senderID) {
		sess, err := r.sessions.Lookup(sessionID)
		if err != nil {
			continue
		}
		members, err := r.sessions.SnapshotMembers(sessionID)
		if err != nil {
			continue
		}
		r.deliverToSet(sess.ClientIDs, protocol.ClientJoinedSession{
			Type:           protocol.TypeClientJoinedSession,
			ClientID:       senderID,
			SessionID:      sessionID,
			SessionOwnerID: sess.OwnerID,
			ClientMap:      members,
		})
	}
}

func (r *Router) handleAddSessionClient(senderID string, msg protocol.AddSessionClient) {
	sess, err := r.sessions.Lookup(msg.SessionID)
	if err != nil {
		r.sendError(senderID, "no session with id "+msg.SessionID)
		return
	}
	if sess.OwnerID != senderID {
		r.log.Warn().
			Str("client", senderID).
			Str("session", sess.ID).
			Err(ErrUnauthorized).
			Msg("non-owner tried to add a client")
		r.sendError(senderID, "only the session owner can add clients")
		return
	}

	sess, err = r.sessions.AddMember(msg.SessionID, msg.AddClientID)
	if err != nil {
		r.sendError(senderID, "no client with id "+msg.AddClientID)
		return
	}
	r.log.Info().
		Str("session", sess.ID).
		Str("client", msg.AddClientID).
		Msg("client added to session")

	members, err := r.sessions.SnapshotMembers(sess.ID)
	if err != nil {
		return
	}
	// One joined notification for everyone, the added client included.
	r.deliverToSet(sess.ClientIDs, protocol.ClientJoinedSession{
		Type:           protocol.TypeClientJoinedSession,
		ClientID:       msg.AddClientID,
		SessionID:      sess.ID,
		SessionOwnerID: sess.OwnerID,
		ClientMap:      members,
	})
}

func (r *Router) handleBroadcastToSession(senderID string, msg protocol.BroadcastToSession) {
	sess, err := r.sessions.Lookup(msg.SessionID)
	if err != nil {
		r.sendError(senderID, "no session with id "+msg.SessionID)
		return
	}
	if !lo.Contains(sess.ClientIDs, senderID) {
		r.sendError(senderID, "not a member of session "+msg.SessionID)
		return
	}

	out := protocol.BroadcastFromSession{
		Type:             protocol.TypeBroadcastFromSession,
		FromSessionOwner: sess.OwnerID == senderID,
		SenderID:         senderID,
		SessionID:        sess.ID,
		Payload:          msg.Payload,
	}
	recipients := sess.ClientIDs
	if !r.opts.Echo {
		recipients = lo.Without(recipients, senderID)
	}
	r.deliverToSet(recipients, out)
}

// sendError reports a precondition failure to the offending sender only.
// Callers must hold r.mu.
func (r *Router) sendError(clientID, message string) {
	r.deliver(clientID, protocol.Error{Type: protocol.TypeError, Message: message})
}

// deliver queues one message for one client. A missing peer is a race
// with disconnect, not an error: the frame is dropped and the disconnect
// path cleans up. Callers must hold r.mu.
func (r *Router) deliver(clientID string, msg protocol.Msg) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.log.Error().Err(err).Msg("encode failed")
		return
	}
	r.deliverFrame(clientID, frame, msg.MsgType())
}

// deliverToSet queues one message for each recipient independently; one
// slow or vanished recipient never affects the others. Callers must hold
// r.mu.
func (r *Router) deliverToSet(clientIDs []string, msg protocol.Msg) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.log.Error().Err(err).Msg("encode failed")
		return
	}
	for _, clientID := range clientIDs {
		r.deliverFrame(clientID, frame, msg.MsgType())
	}
}

func (r *Router) deliverFrame(clientID string, frame []byte, msgType string) {
	peer, ok := r.peers[clientID]
	if !ok {
		r.log.Debug().Str("client", clientID).Str("msg", msgType).Msg("recipient gone, frame dropped")
		return
	}
	if !peer.enqueue(frame) {
		r.log.Warn().Str("client", clientID).Str("msg", msgType).Msg("send queue full, frame dropped")
	}
}
