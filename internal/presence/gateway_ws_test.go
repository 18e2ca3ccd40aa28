package presence

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"inmo-market/internal/domain"
	"inmo-market/internal/service"
)

func startWSServer(t *testing.T) (*Gateway, *service.TokenService, string) {
	t.Helper()

	tokens := service.NewTokenService("access-secret", "refresh-secret", 15*time.Minute, 24*time.Hour)
	g := NewGateway(zap.NewNop(), tokens, NewRegistry(), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return g, tokens, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestGateway_HandshakeAcceptsValidToken(t *testing.T) {
	g, tokens, wsURL := startWSServer(t)

	pair, err := tokens.IssuePair(domain.Identity{ID: "u1", Role: "user"}, "s1")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL+"?token="+pair.AccessToken, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var ack struct {
		Event string `json:"event"`
		Data  struct {
			IdentityID  string `json:"identity_id"`
			Connections int    `json:"connections"`
		} `json:"data"`
	}
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Event != "connected" || ack.Data.IdentityID != "u1" || ack.Data.Connections != 1 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if !g.Registry().IsOnline("u1") {
		t.Fatalf("expected u1 registered after handshake")
	}

	// Eco de ping/pong y consulta de estado.
	if err := wsjson.Write(ctx, conn, Envelope{Event: "ping", Data: "hola"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong Envelope
	if err := wsjson.Read(ctx, conn, &pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Event != "pong" {
		t.Fatalf("expected pong, got %q", pong.Event)
	}

	if err := wsjson.Write(ctx, conn, Envelope{Event: "status"}); err != nil {
		t.Fatalf("write status: %v", err)
	}
	var status struct {
		Event string `json:"event"`
		Data  struct {
			Online      bool `json:"online"`
			Connections int  `json:"connections"`
		} `json:"data"`
	}
	if err := wsjson.Read(ctx, conn, &status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status.Event != "status" || !status.Data.Online || status.Data.Connections != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestGateway_HandshakeRejectsMissingToken(t *testing.T) {
	_, _, wsURL := startWSServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var env struct {
		Event string `json:"event"`
		Data  struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read error envelope: %v", err)
	}
	if env.Event != "error" {
		t.Fatalf("expected error event before close, got %q", env.Event)
	}

	// Despues del evento de error el servidor cierra la conexion.
	var discard Envelope
	if err := wsjson.Read(ctx, conn, &discard); err == nil {
		t.Fatalf("expected connection closed after rejection")
	}
}

func TestGateway_HandshakeRejectsInvalidToken(t *testing.T) {
	_, _, wsURL := startWSServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL+"?token=garbage", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	var env Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read error envelope: %v", err)
	}
	if env.Event != "error" {
		t.Fatalf("expected error event, got %q", env.Event)
	}
}

func TestGateway_DisconnectUnregisters(t *testing.T) {
	g, tokens, wsURL := startWSServer(t)

	pair, err := tokens.IssuePair(domain.Identity{ID: "u9", Role: "user"}, "s9")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL+"?token="+pair.AccessToken, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	var ack Envelope
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for g.Registry().IsOnline("u9") {
		if time.Now().After(deadline) {
			t.Fatalf("expected u9 unregistered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
