package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/tessari/passport/internal/common"
	"github.com/tessari/passport/internal/interfaces"
	"github.com/tessari/passport/internal/models"
	"github.com/tessari/passport/internal/services/jobs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin policy is enforced at the gateway
	},
}

// wsClient is the hub's record of one live socket. Writes are serialized
// through the per-connection mutex because gorilla connections allow only
// one concurrent writer.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub is the progress broadcast channel. The jobs service publishes updates
// in emission order; the hub's event handler enqueues without blocking and a
// single dispatcher goroutine fans out to subscribers, so per-job order is
// preserved on each connection while a slow socket never stalls the worker.
type Hub struct {
	logger   arbor.ILogger
	registry *Registry
	verifier interfaces.TokenVerifier
	jobs     *jobs.Service
	config   *common.WebSocketConfig

	mu      sync.RWMutex
	clients map[string]*wsClient // connectionID -> socket

	updates chan *models.ProgressUpdate
	done    chan struct{}

	// throttle spaces non-terminal broadcasts per job. The limiters are
	// per-job so one chatty job cannot consume the token and suppress
	// another job's only intermediate update. Touched only by the
	// dispatcher goroutine.
	throttle time.Duration
	limiters map[string]*rate.Limiter // jobID -> limiter
}

// NewHub creates the broadcast hub and subscribes it to progress events
func NewHub(eventService interfaces.EventService, verifier interfaces.TokenVerifier, jobService *jobs.Service, registry *Registry, config *common.WebSocketConfig, logger arbor.ILogger) *Hub {
	h := &Hub{
		logger:   logger,
		registry: registry,
		verifier: verifier,
		jobs:     jobService,
		config:   config,
		clients:  make(map[string]*wsClient),
		updates:  make(chan *models.ProgressUpdate, 256),
		done:     make(chan struct{}),
	}

	if interval := config.Throttle(); interval > 0 {
		h.throttle = interval
		h.limiters = make(map[string]*rate.Limiter)
		logger.Debug().
			Str("interval", config.ProgressThrottle).
			Msg("Throttler initialized for progress broadcasts")
	}

	if eventService != nil {
		eventService.Subscribe(interfaces.EventJobProgress, h.onProgressEvent)
	}

	go h.dispatch()

	return h
}

// onProgressEvent accepts a published update without blocking the publisher.
// Terminal updates must never be lost, so they wait for buffer space;
// non-terminal ones are dropped under backpressure since counters are
// cumulative and the next update supersedes them.
func (h *Hub) onProgressEvent(ctx context.Context, event interfaces.Event) error {
	update, ok := event.Payload.(*models.ProgressUpdate)
	if !ok {
		h.logger.Warn().Msg("Invalid progress event payload type")
		return nil
	}

	if update.Terminal() {
		select {
		case h.updates <- update:
		case <-h.done:
		}
		return nil
	}

	select {
	case h.updates <- update:
	default:
		h.logger.Debug().Str("job_id", update.JobID).Msg("Progress update dropped under backpressure")
	}
	return nil
}

// dispatch is the single fan-out loop. One goroutine draining one channel is
// what preserves per-job emission order on every connection.
func (h *Hub) dispatch() {
	for {
		select {
		case update := <-h.updates:
			h.broadcast(update)
		case <-h.done:
			return
		}
	}
}

// broadcast sends one update to every connection watching its job
func (h *Hub) broadcast(update *models.ProgressUpdate) {
	if update.Terminal() {
		delete(h.limiters, update.JobID)
	}

	watchers := h.registry.Watchers(update.JobID)
	if len(watchers) == 0 {
		return
	}

	// Terminal updates always go out; intermediate ones are rate limited
	// per job, and the token is only spent on updates someone is watching
	if !update.Terminal() && h.throttle > 0 && !h.limiterFor(update.JobID).Allow() {
		return
	}

	for _, connectionID := range watchers {
		h.send(connectionID, models.WSMessage{
			Type:    models.MessageTypeProgress,
			Payload: update,
		})
	}

	if update.Terminal() {
		for _, connectionID := range watchers {
			h.send(connectionID, models.WSMessage{
				Type: models.MessageTypeCompleted,
				Payload: models.CompletedPayload{
					JobID:  update.JobID,
					Status: update.Status,
				},
			})
		}
	}
}

// limiterFor returns the job's limiter, creating it on first use
func (h *Hub) limiterFor(jobID string) *rate.Limiter {
	limiter, ok := h.limiters[jobID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(h.throttle), 1)
		h.limiters[jobID] = limiter
	}
	return limiter
}

// HandleWebSocket upgrades an authenticated connection and runs its read loop.
// Authentication happens exactly once, before any subscription is possible.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	principal, err := h.authenticate(r)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket authentication rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	connectionID := common.NewConnectionID()
	client := &wsClient{conn: conn}

	h.mu.Lock()
	h.clients[connectionID] = client
	h.mu.Unlock()
	h.registry.Register(connectionID, principal)

	h.logger.Debug().
		Str("connection_id", connectionID).
		Str("tenant_id", principal.TenantID).
		Int("total", h.registry.ConnectionCount()).
		Msg("WebSocket client connected")

	defer func() {
		h.registry.Unregister(connectionID)
		h.mu.Lock()
		delete(h.clients, connectionID)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().
			Str("connection_id", connectionID).
			Int("remaining", remaining).
			Msg("WebSocket client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("connection_id", connectionID).Msg("WebSocket error")
			}
			break
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(connectionID, "BAD_MESSAGE", "message is not valid JSON")
			continue
		}

		h.handleClientMessage(r.Context(), connectionID, principal, msg)
	}
}

// authenticate verifies the bearer credential from the Authorization header
// or, for browser WebSocket clients that cannot set headers, a token query
// parameter
func (h *Hub) authenticate(r *http.Request) (*interfaces.Principal, error) {
	credential := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		credential = strings.TrimPrefix(auth, "Bearer ")
	} else if token := r.URL.Query().Get("token"); token != "" {
		credential = token
	}
	if credential == "" {
		return nil, fmt.Errorf("no credential presented")
	}

	principal, err := h.verifier.Verify(r.Context(), credential)
	if err != nil {
		return nil, fmt.Errorf("credential rejected: %w", err)
	}
	return principal, nil
}

func (h *Hub) handleClientMessage(ctx context.Context, connectionID string, principal *interfaces.Principal, msg models.ClientMessage) {
	switch msg.Action {
	case models.ActionSubscribe:
		h.handleSubscribe(ctx, connectionID, principal, msg.JobID)

	case models.ActionUnsubscribe:
		h.registry.Unsubscribe(connectionID, msg.JobID)
		h.send(connectionID, models.WSMessage{
			Type:    models.MessageTypeUnsubscribed,
			Payload: models.SubscriptionPayload{JobID: msg.JobID},
		})

	case models.ActionPing:
		h.registry.RecordPong(connectionID)
		h.send(connectionID, models.WSMessage{Type: models.MessageTypeHeartbeatAck})

	default:
		h.sendError(connectionID, "UNKNOWN_ACTION", fmt.Sprintf("unknown action %q", msg.Action))
	}
}

// handleSubscribe links the connection to a job after a tenant check and
// immediately pushes the job's current snapshot, so a late subscriber sees
// where the job stands rather than waiting for the next delta
func (h *Hub) handleSubscribe(ctx context.Context, connectionID string, principal *interfaces.Principal, jobID string) {
	if jobID == "" {
		h.sendError(connectionID, "BAD_SUBSCRIBE", "subscribe requires a jobId")
		return
	}

	job, err := h.jobs.GetJob(ctx, jobID)
	if err != nil {
		h.sendError(connectionID, "JOB_NOT_FOUND", fmt.Sprintf("no job %q", jobID))
		return
	}
	if job.TenantID != principal.TenantID {
		// Cross-tenant reads are never allowed; respond as if absent
		h.sendError(connectionID, "JOB_NOT_FOUND", fmt.Sprintf("no job %q", jobID))
		return
	}

	if err := h.registry.Subscribe(connectionID, jobID); err != nil {
		h.logger.Warn().Err(err).Str("connection_id", connectionID).Msg("Subscribe failed")
		return
	}

	h.send(connectionID, models.WSMessage{
		Type:    models.MessageTypeSubscribed,
		Payload: models.SubscriptionPayload{JobID: jobID},
	})
	h.send(connectionID, models.WSMessage{
		Type:    models.MessageTypeProgress,
		Payload: job.Snapshot(),
	})
}

// send marshals and writes one message to one connection
func (h *Hub) send(connectionID string, msg models.WSMessage) {
	h.mu.RLock()
	client := h.clients[connectionID]
	h.mu.RUnlock()
	if client == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	client.mu.Lock()
	err = client.conn.WriteMessage(websocket.TextMessage, data)
	client.mu.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Str("connection_id", connectionID).Msg("Failed to send message to client")
	}
}

func (h *Hub) sendError(connectionID, code, message string) {
	h.send(connectionID, models.WSMessage{
		Type:    models.MessageTypeError,
		Payload: models.ErrorPayload{Code: code, Message: message},
	})
}

// StartHeartbeat begins the periodic heartbeat loop. Each tick sends a
// heartbeat to every connection and purges the ones that missed too many;
// a client "ping" resets its counter.
func (h *Hub) StartHeartbeat() {
	ticker := time.NewTicker(h.config.Interval())

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.sweepHeartbeats()
			case <-h.done:
				return
			}
		}
	}()
}

func (h *Hub) sweepHeartbeats() {
	for _, connectionID := range h.registry.ConnectionIDs() {
		missed := h.registry.RecordHeartbeatSent(connectionID)
		if missed > h.config.MaxMissedHeartbeats {
			h.logger.Info().
				Str("connection_id", connectionID).
				Int("missed", missed-1).
				Msg("Purging unresponsive connection")
			h.closeConnection(connectionID)
			continue
		}
		h.send(connectionID, models.WSMessage{Type: models.MessageTypeHeartbeat})
	}
}

// closeConnection closes the socket; the read loop observes the close and
// unregisters through its normal teardown path
func (h *Hub) closeConnection(connectionID string) {
	h.mu.RLock()
	client := h.clients[connectionID]
	h.mu.RUnlock()
	if client != nil {
		client.conn.Close()
	}
}

// Stop shuts down the dispatcher and closes every connection
func (h *Hub) Stop() {
	close(h.done)

	h.mu.Lock()
	for connectionID, client := range h.clients {
		client.conn.Close()
		delete(h.clients, connectionID)
	}
	h.mu.Unlock()

	h.logger.Info().Msg("WebSocket hub stopped")
}
