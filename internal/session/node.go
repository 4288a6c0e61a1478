// internal/session/node.go
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jason-s-yu/sionline/internal/models"
)

// Transport is the established connection to a game session.
type Transport interface {
	Protocol() string
	Close() error
}

// Node is the local endpoint of a game session. It owns the transport and is
// tagged with the game id so later server messages can be correlated.
type Node struct {
	ID        uuid.UUID
	GameID    int
	Transport Transport

	mu      sync.Mutex
	clients []*Client
	closed  bool
}

// NewNode wraps an established transport.
func NewNode(gameID int, t Transport) *Node {
	return &Node{ID: uuid.New(), GameID: gameID, Transport: t}
}

// Clients returns the clients attached to the node.
func (n *Node) Clients() []*Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Client(nil), n.clients...)
}

// Close closes the transport once.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()
	return n.Transport.Close()
}

// Closed reports whether Close was called.
func (n *Node) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Client is the local viewer, player or host seated in a session.
type Client struct {
	Name   string
	Role   models.Role
	IsHost bool

	node *Node
}

// NewClient creates an unattached client.
func NewClient(name string, role models.Role, isHost bool) *Client {
	return &Client{Name: name, Role: role, IsHost: isHost}
}

// ConnectTo attaches the client to n.
func (c *Client) ConnectTo(n *Node) {
	n.mu.Lock()
	n.clients = append(n.clients, c)
	n.mu.Unlock()
	c.node = n
}

// Node returns the node the client is attached to.
func (c *Client) Node() *Node { return c.node }

// Session is the result of a successful establishment.
type Session struct {
	GameID int
	IsHost bool
	Node   *Node
	Client *Client
}

// Close tears the session down.
func (s *Session) Close() error { return s.Node.Close() }
