// internal/distributor/ws.go
package distributor

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ssd-technologies/pulsegrid/internal/tier"
)

// SubscribeHello is the mandatory first frame on a subscriber connection.
type SubscribeHello struct {
	ProducerID string `json:"producer_id"`
	AgentPath  string `json:"agent_path"`
	Tier       string `json:"tier"`
}

// helloAck is the server reply to a valid handshake.
type helloAck struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	Tier         string `json:"tier"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSubscribe handles GET /subscribe — upgrade, handshake, then stream
// updates until the client goes away. Per connection the lifecycle is
// Connecting -> HandshakeReceived -> Streaming -> Closed; any protocol
// violation jumps straight to Closed after a best-effort error frame.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	// Resolve the caller's entitled tier from headers before the upgrade;
	// the handshake may declare at most this tier.
	callerTier := tier.FromRequest(r, s.premiumKey)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[distributor] websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	hello, err := s.readHello(conn)
	if err != nil {
		writeWSError(conn, err.Error())
		return
	}

	declaredTier := hello.Tier
	if declaredTier == "" {
		declaredTier = tier.Free
	}
	if !tier.Valid(declaredTier) {
		writeWSError(conn, "invalid tier: "+hello.Tier)
		return
	}
	if declaredTier == tier.Premium && callerTier != tier.Premium {
		// A free caller claiming premium is streamed at free tier rather
		// than rejected; the claim alone must not leak premium frames.
		log.Printf("[distributor] premium claim without premium key, lowering producer=%s", hello.ProducerID)
		declaredTier = tier.Free
	}

	connID := uuid.New().String()
	sub := s.bc.Subscribe(connID, hello.ProducerID, hello.AgentPath, declaredTier)
	defer s.bc.Unsubscribe(connID)

	log.Printf("[distributor] subscriber connected conn=%s producer=%s path=%s tier=%s",
		connID, hello.ProducerID, hello.AgentPath, declaredTier)

	ack := helloAck{Type: "hello_ack", ConnectionID: connID, Tier: declaredTier}
	conn.SetWriteDeadline(time.Now().Add(s.writeWait))
	if err := conn.WriteJSON(ack); err != nil {
		return
	}

	// Writer: drain the subscriber queue and keep the connection alive.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case env, ok := <-sub.Updates():
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(s.writeWait))
				if err := conn.WriteJSON(env); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(s.writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader: the subscription stream is server-push, so inbound frames only
	// matter for liveness and close detection.
	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
		conn.SetReadDeadline(time.Now().Add(s.pongWait))
	}

	s.bc.Unsubscribe(connID)
	conn.Close()
	<-writerDone
	log.Printf("[distributor] subscriber disconnected conn=%s", connID)
}

// readHello reads and validates the handshake frame under a deadline.
func (s *Server) readHello(conn *websocket.Conn) (*SubscribeHello, error) {
	conn.SetReadDeadline(time.Now().Add(s.handshakeWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, errHandshake("handshake not received")
	}
	var hello SubscribeHello
	if err := json.Unmarshal(data, &hello); err != nil {
		return nil, errHandshake("malformed handshake")
	}
	if hello.ProducerID == "" {
		return nil, errHandshake("producer_id is required")
	}
	return &hello, nil
}

type errHandshake string

func (e errHandshake) Error() string { return string(e) }

func writeWSError(conn *websocket.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(map[string]string{"type": "error", "error": message})
}
