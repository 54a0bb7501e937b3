package transport_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lightforgemedia/go-wschannel/pkg/testutil"
	"github.com/lightforgemedia/go-wschannel/pkg/transport"
	"github.com/lightforgemedia/go-wschannel/pkg/wire"
)

func TestConnectHandshake(t *testing.T) {
	srv := testutil.NewServer(t)

	tr := transport.NewWebSocket(srv.URL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, "token-123"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	creds := srv.Credentials()
	if len(creds) != 1 || creds[0] != "token-123" {
		t.Errorf("server saw credentials %v", creds)
	}
}

func TestConnectRejectedCredential(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.RequireCredential("right")

	tr := transport.NewWebSocket(srv.URL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, "wrong"); err == nil {
		tr.Close()
		t.Fatal("Connect should fail with a rejected credential")
	}
}

func TestConnectDroppedHandshake(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.RejectNextConnects(1)

	tr := transport.NewWebSocket(srv.URL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, "any"); err == nil {
		tr.Close()
		t.Fatal("Connect should fail when the server closes without connect_ack")
	}
}

func TestSendReceivesAck(t *testing.T) {
	srv := testutil.NewServer(t)
	tr := transport.NewWebSocket(srv.URL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	env, err := wire.NewEnvelope("msg-1", wire.TypeEvent, "orders.created", map[string]int{"id": 7}, nil)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if err := tr.Send(ctx, env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got, ok := <-tr.Receive():
		if !ok {
			t.Fatal("receive channel closed before ack")
		}
		if got.Type != wire.TypeAck || got.ID != "msg-1" {
			t.Errorf("unexpected inbound envelope: %+v", got)
		}
		var payload map[string]int
		if err := got.DecodePayload(&payload); err != nil || payload["id"] != 7 {
			t.Errorf("ack payload = %s (err %v)", json.RawMessage(got.Payload), err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no ack received")
	}
}

func TestReceiveClosesOnServerDrop(t *testing.T) {
	srv := testutil.NewServer(t)
	tr := transport.NewWebSocket(srv.URL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Connect(ctx, "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Close()

	srv.CloseActiveConn()

	select {
	case _, ok := <-tr.Receive():
		if ok {
			// Drain anything in flight; the close must still arrive.
			for range tr.Receive() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive channel did not close after server drop")
	}
	if tr.Err() == nil {
		t.Error("Err should report the connection loss")
	}
}
