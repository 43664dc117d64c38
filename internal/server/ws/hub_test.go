package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cfebook/internal/domain"
	"github.com/alanyoungcy/cfebook/internal/export"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func startHub(t *testing.T, bus domain.SignalBus, channels ...string) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(bus, nil, Config{Channels: channels})
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var status controlMsg
	readText(t, conn, &status)
	assert.Equal(t, "hub_status", status.Type)
	return conn
}

func readText(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	require.NoError(t, json.Unmarshal(data, v))
}

func subscribe(t *testing.T, conn *websocket.Conn, action string, symbols ...string) []string {
	t.Helper()
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: action, Symbols: symbols}))
	var ack controlMsg
	readText(t, conn, &ack)
	require.Equal(t, "subscriptions", ack.Type)
	return ack.Symbols
}

func TestHub_PublishRoutesBySymbol(t *testing.T) {
	hub, url := startHub(t, nil)
	vx := dial(t, url)
	all := dial(t, url)

	assert.Equal(t, []string{"VXV4", "VXX4"}, subscribe(t, vx, "subscribe", "VXX4", "VXV4"))
	assert.Equal(t, []string{"VXV4"}, subscribe(t, vx, "unsubscribe", "VXX4"))
	assert.Equal(t, []string{allSymbols}, subscribe(t, all, "subscribe", allSymbols))

	updates := []domain.BBOUpdate{
		{Session: "day1", Stamp: "2024-10-09 03:40:50.000000000", PktSeq: 4, MsgSeq: 5, Tag: domain.TagAdd, Symbol: "VXX4", Status: domain.StatusTrading},
		{Session: "day1", Stamp: "2024-10-09 03:40:50.000000100", PktSeq: 6, MsgSeq: 6, Tag: domain.TagAdd, Symbol: "VXV4",
			BBO: domain.BBO{BidPrice: 1525, BidQty: 10}, Status: domain.StatusTrading},
	}
	require.NoError(t, hub.Publish(context.Background(), updates))

	kind, data, err := vx.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	got, err := export.DecodeUpdate(data)
	require.NoError(t, err)
	assert.Equal(t, updates[1], got)

	for _, want := range updates {
		_, data, err := all.ReadMessage()
		require.NoError(t, err)
		got, err := export.DecodeUpdate(data)
		require.NoError(t, err)
		assert.Equal(t, want.Symbol, got.Symbol)
	}
}

func TestHub_RejectsMalformedRequest(t *testing.T) {
	_, url := startHub(t, nil)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var reply controlMsg
	readText(t, conn, &reply)
	assert.Equal(t, "error", reply.Type)
}

func TestHub_RelaysSessionEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte)}
	_, url := startHub(t, bus, "cfe:session:*")
	conn := dial(t, url)

	payload := []byte(`{"event":"session_finished","session":"day1"}`)
	require.NoError(t, bus.Publish(context.Background(), "cfe:session:day1", payload))

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, string(payload), string(data))
}

func TestHub_PublishHonoursContext(t *testing.T) {
	hub := NewHub(nil, nil, Config{})
	for range cap(hub.broadcast) {
		hub.broadcast <- broadcastMsg{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := hub.Publish(ctx, []domain.BBOUpdate{{Symbol: "VXV4"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "ws", hub.Name())
}
