package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionWithoutLogger(t *testing.T) {
	type outcome struct {
		first, second, afterClose bool
		state                     State
	}
	results := make(chan outcome, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConnection("viewer-x", ws, ConnOptions{SendBuffer: 1}, nil, nil)
		var o outcome
		conn.MarkOpen()
		o.first = conn.Send([]byte(`{}`))
		// The queue holds one message and nothing drains it, so this drop is logged.
		o.second = conn.Send([]byte(`{}`))
		conn.Close()
		o.afterClose = conn.Send([]byte(`{}`))
		o.state = conn.State()
		results <- o
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case o := <-results:
		assert.True(t, o.first)
		assert.False(t, o.second)
		assert.False(t, o.afterClose)
		assert.Equal(t, StateClosed, o.state)
	case <-time.After(2 * time.Second):
		t.Fatal("connection handler did not finish")
	}
}

func TestMarkOpenOnlyFromConnecting(t *testing.T) {
	conn := NewConnection("viewer-y", nil, ConnOptions{}, nil, nil)
	assert.Equal(t, StateConnecting, conn.State())
	assert.False(t, conn.Send([]byte(`{}`)))
	assert.True(t, conn.MarkOpen())
	assert.False(t, conn.MarkOpen())
	assert.Equal(t, "open", conn.State().String())
}
