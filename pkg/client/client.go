package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/tessari/passport/internal/models"
)

// ErrClosed is returned from operations on a subscriber after Close
var ErrClosed = errors.New("subscriber is closed")

// ErrRetriesExhausted is the terminal failure surfaced after the reconnect
// policy runs out of attempts
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// Subscriber is a reconnecting client for the progress broadcast channel.
// Incoming progress lands on the Updates channel; subscriptions survive
// reconnects because the subscriber replays them after each redial.
type Subscriber struct {
	url    string
	token  string
	policy Policy

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[string]bool
	closed bool
	err    error

	updates chan models.ProgressUpdate
	done    chan struct{}
}

// NewSubscriber creates a subscriber for the given WebSocket URL. The token
// is presented as a bearer credential on every dial.
func NewSubscriber(url, token string, policy Policy) *Subscriber {
	return &Subscriber{
		url:     url,
		token:   token,
		policy:  policy,
		subs:    make(map[string]bool),
		updates: make(chan models.ProgressUpdate, 64),
		done:    make(chan struct{}),
	}
}

// Connect dials the server and starts the read loop. It fails fast on the
// first dial; reconnect backoff only applies to connections that were
// established and then lost.
func (s *Subscriber) Connect() error {
	conn, err := s.dial()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.run()
	return nil
}

// Updates returns the channel carrying progress for all subscribed jobs.
// It is closed when the subscriber shuts down; check Err afterwards.
func (s *Subscriber) Updates() <-chan models.ProgressUpdate {
	return s.updates
}

// Err reports why the updates channel closed. Nil after a clean Close.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe starts progress delivery for one job
func (s *Subscriber) Subscribe(jobID string) error {
	return s.Send(models.ClientMessage{Action: models.ActionSubscribe, JobID: jobID})
}

// Unsubscribe stops progress delivery for one job
func (s *Subscriber) Unsubscribe(jobID string) error {
	return s.Send(models.ClientMessage{Action: models.ActionUnsubscribe, JobID: jobID})
}

// Send writes one client message to the connection. Subscription state is
// tracked here so it can be replayed after a reconnect.
func (s *Subscriber) Send(msg models.ClientMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.conn == nil {
		return errors.New("not connected")
	}

	switch msg.Action {
	case models.ActionSubscribe:
		s.subs[msg.JobID] = true
	case models.ActionUnsubscribe:
		delete(s.subs, msg.JobID)
	}

	return s.conn.WriteJSON(msg)
}

// Close shuts the subscriber down and closes the updates channel
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	close(s.done)
	if conn != nil {
		conn.Close()
	}
	return nil
}

func (s *Subscriber) dial() (*websocket.Conn, error) {
	header := http.Header{"Authorization": []string{"Bearer " + s.token}}
	conn, _, err := websocket.DefaultDialer.Dial(s.url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", s.url, err)
	}
	return conn, nil
}

// run reads from the connection until it breaks, then works through the
// reconnect policy. When the policy gives up the updates channel closes and
// the terminal error is left on Err.
func (s *Subscriber) run() {
	defer close(s.updates)

	for {
		s.readLoop()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		if !s.reconnect() {
			return
		}
	}
}

// envelope mirrors the server's message wrapper with the payload left raw
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Subscriber) readLoop() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	for {
		var msg envelope
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case models.MessageTypeProgress, models.MessageTypeCompleted:
			var update models.ProgressUpdate
			if err := json.Unmarshal(msg.Payload, &update); err != nil {
				continue
			}
			if update.JobID == "" {
				continue
			}
			select {
			case s.updates <- update:
			case <-s.done:
				return
			}
		case models.MessageTypeHeartbeat:
			s.Send(models.ClientMessage{Action: models.ActionPing})
		}
	}
}

// reconnect redials per the policy and replays subscriptions. Returns false
// when the subscriber should stop, either because it was closed or because
// the attempts ran out.
func (s *Subscriber) reconnect() bool {
	b := s.policy.NewBackOff()

	for {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			s.mu.Lock()
			s.err = ErrRetriesExhausted
			s.mu.Unlock()
			return false
		}

		select {
		case <-time.After(delay):
		case <-s.done:
			return false
		}

		conn, err := s.dial()
		if err != nil {
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return false
		}
		s.conn = conn
		jobIDs := make([]string, 0, len(s.subs))
		for jobID := range s.subs {
			jobIDs = append(jobIDs, jobID)
		}
		s.mu.Unlock()

		for _, jobID := range jobIDs {
			s.Subscribe(jobID)
		}
		return true
	}
}
