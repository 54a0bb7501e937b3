// Command server runs a demo backend speaking the go-wschannel envelope
// protocol: it accepts handshakes, acknowledges events, answers pings and
// broadcasts a server.time event every few seconds.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type server struct {
	logger     *slog.Logger
	credential string // empty accepts any

	mu    sync.Mutex
	conns map[*client]struct{}
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(env *wire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(env)
}

func (s *server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn}
	defer conn.Close()

	var hello wire.Envelope
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != wire.TypeConnect {
		s.logger.Warn("handshake missing connect envelope", "remote", r.RemoteAddr)
		return
	}
	var hp wire.ConnectPayload
	if err := hello.DecodePayload(&hp); err != nil {
		return
	}
	if s.credential != "" && hp.Credential != s.credential {
		errEnv, _ := wire.NewEnvelope(hello.ID, wire.TypeError, "", nil,
			&wire.ErrorPayload{Code: http.StatusUnauthorized, Message: "invalid credential"})
		c.write(errEnv)
		return
	}
	ack, _ := wire.NewEnvelope(hello.ID, wire.TypeConnectAck, "", nil, nil)
	if err := c.write(ack); err != nil {
		return
	}
	s.logger.Info("client connected", "remote", r.RemoteAddr)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		s.logger.Info("client disconnected", "remote", r.RemoteAddr)
	}()

	for {
		var env wire.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case wire.TypeEvent:
			s.logger.Info("event", "topic", env.Topic, "id", env.ID, "priority", env.Priority)
			ackEnv, _ := wire.NewEnvelope(env.ID, wire.TypeAck, env.Topic, env.Payload, nil)
			if err := c.write(ackEnv); err != nil {
				return
			}
			// echo events bounce back as a server-initiated event
			if env.Topic == "echo" {
				evt := &wire.Envelope{ID: wire.NewID(), Type: wire.TypeEvent, Topic: "echo", Payload: env.Payload}
				c.write(evt)
			}
		case wire.TypePing:
			c.write(&wire.Envelope{ID: env.ID, Type: wire.TypePong, Payload: env.Payload})
		}
	}
}

func (s *server) broadcastTime(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		env, err := wire.NewEnvelope(wire.NewID(), wire.TypeEvent, "server.time",
			map[string]string{"now": time.Now().Format(time.RFC3339)}, nil)
		if err != nil {
			continue
		}
		s.mu.Lock()
		conns := make([]*client, 0, len(s.conns))
		for c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()
		for _, c := range conns {
			if err := c.write(env); err != nil {
				s.logger.Debug("broadcast failed", "error", err)
			}
		}
	}
}

func main() {
	addr := pflag.String("addr", ":8081", "listen address")
	credential := pflag.String("credential", "", "required handshake credential (empty accepts any)")
	broadcastEvery := pflag.Duration("broadcast-every", 5*time.Second, "server.time broadcast interval")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	s := &server{
		logger:     logger,
		credential: *credential,
		conns:      make(map[*client]struct{}),
	}
	go s.broadcastTime(*broadcastEvery)

	http.HandleFunc("/ws", s.handle)
	logger.Info("demo server listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
