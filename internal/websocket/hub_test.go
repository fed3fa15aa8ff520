package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastReachesWatchers(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	watching := &Client{hub: hub, send: make(chan []byte, 1), orderID: "o1"}
	other := &Client{hub: hub, send: make(chan []byte, 1), orderID: "o2"}
	hub.register <- watching
	hub.register <- other

	hub.BroadcastOrderUpdate("o1", "paid")

	select {
	case msg := <-watching.send:
		var upd OrderUpdate
		require.NoError(t, json.Unmarshal(msg, &upd))
		assert.Equal(t, "o1", upd.OrderID)
		assert.Equal(t, "paid", upd.Status)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	select {
	case <-other.send:
		t.Fatal("update leaked to a client watching another order")
	case <-time.After(50 * time.Millisecond):
	}
}
