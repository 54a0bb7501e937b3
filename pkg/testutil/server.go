// Package testutil provides test helpers for go-wschannel: a real
// websocket server speaking the envelope protocol with failure-injection
// knobs, and polling wait utilities.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

// Server is an in-process backend for exercising the connection manager.
// By default it accepts every handshake, acks every event and answers
// every ping; the Set/Reject knobs inject failures.
type Server struct {
	t          *testing.T
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu                sync.Mutex
	writeMu           sync.Mutex
	rejectConnects    int
	requireCredential string
	dropAcks          bool
	silencePongs      bool
	conn              *websocket.Conn
	credentials       []string
	received          []wire.Envelope
	handshakes        int // connect envelopes seen
	connects          int // handshakes accepted
}

// NewServer starts a protocol-speaking websocket server. It is shut down
// automatically when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{t: t}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// endpoint of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http")
}

// RejectNextConnects makes the next n handshakes fail by closing the
// socket without a connect_ack.
func (s *Server) RejectNextConnects(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectConnects = n
}

// RequireCredential rejects handshakes whose credential differs.
func (s *Server) RequireCredential(cred string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireCredential = cred
}

// SetDropAcks suppresses event acknowledgments when enabled.
func (s *Server) SetDropAcks(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropAcks = drop
}

// SetSilencePongs suppresses ping replies when enabled.
func (s *Server) SetSilencePongs(silence bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silencePongs = silence
}

// HandshakeCount reports how many connect envelopes the server has seen.
func (s *Server) HandshakeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// ConnectCount reports how many handshakes were accepted.
func (s *Server) ConnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Credentials returns the credentials of accepted handshakes in order.
func (s *Server) Credentials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.credentials...)
}

// Received returns copies of the event envelopes received so far, in
// arrival order.
func (s *Server) Received() []wire.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Envelope(nil), s.received...)
}

// ReceivedTopics returns just the topics of received events, in order.
func (s *Server) ReceivedTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, len(s.received))
	for i, env := range s.received {
		topics[i] = env.Topic
	}
	return topics
}

// Push sends a server-initiated event to the currently connected client.
func (s *Server) Push(topic string, payload interface{}) error {
	env, err := wire.NewEnvelope(wire.NewID(), wire.TypeEvent, topic, payload, nil)
	if err != nil {
		return err
	}
	return s.write(env)
}

// Ping sends a server-initiated liveness probe with the given ID.
func (s *Server) Ping(id string) error {
	env, err := wire.NewEnvelope(id, wire.TypePing, "", wire.PingPayload{}, nil)
	if err != nil {
		return err
	}
	return s.write(env)
}

// CloseActiveConn drops the current connection without a close handshake,
// simulating an unexpected network loss.
func (s *Server) CloseActiveConn() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Close shuts the server down.
func (s *Server) Close() {
	s.CloseActiveConn()
	s.httpServer.Close()
}

func (s *Server) write(env *wire.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return websocket.ErrCloseSent
	}
	return s.writeTo(conn, env)
}

func (s *Server) writeTo(conn *websocket.Conn, env *wire.Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(env)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var hello wire.Envelope
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != wire.TypeConnect {
		return
	}

	s.mu.Lock()
	s.handshakes++
	reject := s.rejectConnects > 0
	if reject {
		s.rejectConnects--
	}
	required := s.requireCredential
	s.mu.Unlock()

	if reject {
		return // close without connect_ack
	}

	var hp wire.ConnectPayload
	if err := hello.DecodePayload(&hp); err != nil {
		return
	}
	if required != "" && hp.Credential != required {
		errEnv, _ := wire.NewEnvelope(hello.ID, wire.TypeError, "", nil,
			&wire.ErrorPayload{Code: http.StatusUnauthorized, Message: "invalid credential"})
		s.writeTo(conn, errEnv)
		return
	}

	s.mu.Lock()
	s.credentials = append(s.credentials, hp.Credential)
	s.connects++
	s.conn = conn
	s.mu.Unlock()

	ack, _ := wire.NewEnvelope(hello.ID, wire.TypeConnectAck, "", nil, nil)
	if err := s.writeTo(conn, ack); err != nil {
		return
	}

	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			break
		}
		switch env.Type {
		case wire.TypeEvent:
			s.mu.Lock()
			s.received = append(s.received, env)
			drop := s.dropAcks
			s.mu.Unlock()
			if !drop {
				ackEnv, _ := wire.NewEnvelope(env.ID, wire.TypeAck, env.Topic, env.Payload, nil)
				s.writeTo(conn, ackEnv)
			}
		case wire.TypePing:
			s.mu.Lock()
			silence := s.silencePongs
			s.mu.Unlock()
			if !silence {
				s.writeTo(conn, &wire.Envelope{ID: env.ID, Type: wire.TypePong, Payload: env.Payload})
			}
		}
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
}
