// Package events fans out ledger service events to connected WebSocket
// clients, grounded on cmd/messaging-service/internal/models/hub.go's
// register/unregister/broadcast channel pattern, adapted from per-room
// fan-out to per-ledger topic fan-out.
package events

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jasonsutter87/veilchain/internal/ledger/service"
)

// Client is one connected WebSocket subscriber, scoped to a single
// ledger's event stream.
type Client struct {
	LedgerID string
	Send     chan []byte
}

// Broadcaster fans out ledger events (spec §6's entry_append/root_change)
// to subscribed WebSocket clients. Like the teacher's Hub, it never blocks
// the publishing goroutine: a slow client is dropped instead of stalling
// the broadcast loop, matching spec §4.7's "errors in listeners are
// swallowed with a log."
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan taggedMessage
}

type taggedMessage struct {
	ledgerID string
	payload  []byte
}

// NewBroadcaster returns a Broadcaster; call Run in its own goroutine to
// start fanning out events.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan taggedMessage, 64),
	}
}

// Register adds a client to the fan-out set.
func (b *Broadcaster) Register(c *Client) { b.register <- c }

// Unregister removes a client and closes its send channel.
func (b *Broadcaster) Unregister(c *Client) { b.unregister <- c }

// Run processes register/unregister/broadcast until stop is closed.
func (b *Broadcaster) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case c := <-b.register:
			b.mu.Lock()
			b.clients[c] = true
			b.mu.Unlock()
		case c := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[c]; ok {
				delete(b.clients, c)
				close(c.Send)
			}
			b.mu.Unlock()
		case msg := <-b.broadcast:
			b.mu.Lock()
			for c := range b.clients {
				if c.LedgerID != msg.ledgerID {
					continue
				}
				select {
				case c.Send <- msg.payload:
				default:
					close(c.Send)
					delete(b.clients, c)
				}
			}
			b.mu.Unlock()
		}
	}
}

// Listener returns a service.Listener that serializes each event to JSON
// and queues it for fan-out. Wire directly into service.Service.Subscribe.
func (b *Broadcaster) Listener() service.Listener {
	return func(ev service.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[events] failed to marshal event for ledger %s: %v", ev.LedgerID, err)
			return
		}
		select {
		case b.broadcast <- taggedMessage{ledgerID: ev.LedgerID, payload: payload}:
		default:
			log.Printf("[events] broadcast queue full, dropping %s event for ledger %s", ev.Type, ev.LedgerID)
		}
	}
}

// upgrader is the shared WebSocket upgrader for the event stream endpoint.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades r to a WebSocket connection subscribed to ledgerID's
// event stream, registering and unregistering a Client with b for the
// lifetime of the connection.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request, ledgerID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := &Client{LedgerID: ledgerID, Send: make(chan []byte, 16)}
	b.Register(client)
	go func() {
		pumpWrite(conn, client)
		b.Unregister(client)
	}()
	return nil
}

// pumpWrite writes queued messages to conn until Send is closed, sending a
// ping on idle to detect dead connections — the same idle-ping shape the
// teacher's WebSocket handlers use to keep connections alive.
func pumpWrite(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-client.Send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
