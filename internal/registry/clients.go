// Clients is the authoritative in-memory registry of connected clients.
// It owns Client records; sessions only reference client ids.

package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Client is a connected client as exposed on the wire.
type Client struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RemoteAddr   string    `json:"remoteAddr"`
	LastJoinTime time.Time `json:"lastJoinTime"`
}

// Clients tracks every connected client by id.
type Clients struct {
	mu      sync.RWMutex
	byID    map[string]*Client
	retired map[string]struct{}
}

func NewClients() *Clients {
	return &Clients{
		byID:    make(map[string]*Client),
		retired: make(map[string]struct{}),
	}
}

// Register allocates a fresh id and stores a new client record.
// It has no failure path.
func (c *Clients) Register(remoteAddr string) Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.freshID()
	client := &Client{ID: id, RemoteAddr: remoteAddr}
	c.byID[id] = client
	return *client
}

// freshID allocates an id never seen before in this process run.
// Callers must hold c.mu.
func (c *Clients) freshID() string {
	for {
		id := uuid.NewString()
		if _, dup := c.byID[id]; dup {
			continue
		}
		if _, dup := c.retired[id]; dup {
			continue
		}
		return id
	}
}

// Rename updates a client's display name in place.
func (c *Clients) Rename(id, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("rename client %s: %w", id, ErrNotFound)
	}
	client.Name = name
	return nil
}

// TouchJoin stamps the client's most recent session join time.
// Unknown ids are ignored; the join itself already validated the client.
func (c *Clients) TouchJoin(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.byID[id]; ok {
		client.LastJoinTime = time.Now()
	}
}

// Unregister removes the client. It is idempotent so duplicate disconnect
// signals from the transport are harmless.
func (c *Clients) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[id]; ok {
		delete(c.byID, id)
		c.retired[id] = struct{}{}
	}
}

// Lookup returns the client record for id.
func (c *Clients) Lookup(id string) (Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	client, ok := c.byID[id]
	if !ok {
		return Client{}, fmt.Errorf("lookup client %s: %w", id, ErrNotFound)
	}
	return *client, nil
}

// All returns a snapshot of every registered client.
func (c *Clients) All() []Client {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return lo.Map(lo.Values(c.byID), func(client *Client, _ int) Client {
		return *client
	})
}
