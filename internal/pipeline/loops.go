// internal/pipeline/loops.go
//
// Background loops an ORCH runs against the swarm: a periodic telemetry
// heartbeat to the collector, and a persistent update subscription to the
// distributor.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ssd-technologies/pulsegrid/internal/distributor"
	"github.com/ssd-technologies/pulsegrid/internal/telemetry"
)

const (
	defaultTelemetryInterval = 300 * time.Second
	reconnectBase            = 1 * time.Second
	reconnectCap             = 60 * time.Second
)

// Client runs the ORCH side of the pipeline: heartbeats to the collector
// and hot updates from the distributor, both applied to a shared State.
type Client struct {
	state          *State
	collectorURL   string
	distributorURL string
	interval       time.Duration
	httpClient     *http.Client
	dialer         *websocket.Dialer
}

// ClientConfig configures a pipeline client. Interval defaults to five
// minutes when zero.
type ClientConfig struct {
	CollectorURL   string
	DistributorURL string
	Interval       time.Duration
}

// NewClient builds a pipeline client over an existing state.
func NewClient(state *State, cfg ClientConfig) *Client {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultTelemetryInterval
	}
	return &Client{
		state:          state,
		collectorURL:   strings.TrimRight(cfg.CollectorURL, "/"),
		distributorURL: strings.TrimRight(cfg.DistributorURL, "/"),
		interval:       interval,
		httpClient:     &http.Client{Timeout: 15 * time.Second},
		dialer:         websocket.DefaultDialer,
	}
}

// RunTelemetryLoop posts a heartbeat immediately and then on every tick
// until the context is cancelled. Send failures are logged and the loop
// keeps going.
func (c *Client) RunTelemetryLoop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	if err := c.sendHeartbeat(ctx); err != nil {
		log.Printf("[pipeline] heartbeat: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sendHeartbeat(ctx); err != nil {
				log.Printf("[pipeline] heartbeat: %v", err)
			}
		}
	}
}

func (c *Client) sendHeartbeat(ctx context.Context) error {
	snap := c.state.Snapshot()
	payload, err := json.Marshal(map[string]any{
		"agent_path":       snap.AgentPath,
		"last_update_id":   snap.LastUpdateID,
		"last_update_type": snap.LastUpdateType,
		"last_error":       snap.LastError,
	})
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	env := telemetry.Envelope{
		ProducerID: snap.ProducerID,
		AgentPath:  snap.AgentPath,
		TSUnix:     time.Now().Unix(),
		Kind:       "orch_heartbeat",
		Level:      "info",
		Tags:       []string{"learning_pipeline"},
		Payload:    payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.collectorURL+"/ingest", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post heartbeat: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collector returned %d", resp.StatusCode)
	}
	return nil
}

// RunUpdateLoop maintains the subscription to the distributor, applying
// every delivered update to the state. Connection loss triggers reconnects
// with exponential backoff, reset after each successful session.
func (c *Client) RunUpdateLoop(ctx context.Context) {
	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}
		connected, err := c.runSession(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("[pipeline] update session: %v", err)
		}
		if connected {
			backoff = reconnectBase
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectCap {
			backoff = reconnectCap
		}
	}
}

// runSession dials, handshakes, and consumes updates until the connection
// drops or the context ends. connected reports whether the handshake made
// it through; a nil error means a clean remote close.
func (c *Client) runSession(ctx context.Context) (connected bool, err error) {
	wsURL := toWebSocketURL(c.distributorURL) + "/subscribe"
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	// Unblocks ReadJSON when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	snap := c.state.Snapshot()
	hello := distributor.SubscribeHello{
		ProducerID: snap.ProducerID,
		AgentPath:  snap.AgentPath,
		Tier:       snap.Tier,
	}
	if err := conn.WriteJSON(hello); err != nil {
		return false, fmt.Errorf("send hello: %w", err)
	}

	log.Printf("[pipeline] subscribed to %s as %s", wsURL, snap.AgentPath)
	for {
		var env distributor.UpdateEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, nil
			}
			return true, fmt.Errorf("read update: %w", err)
		}
		// Control frames (hello_ack, warnings) carry no update id.
		if env.UpdateID == "" {
			continue
		}
		c.state.ApplyUpdate(&env)
	}
}

func toWebSocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
