package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/menu-sync/internal/events"
	"github.com/example/menu-sync/internal/types"
)

func headerAuth(r *http.Request) (Identity, error) {
	user := r.Header.Get("X-User-ID")
	if user == "" {
		return Identity{}, errors.New("anonymous")
	}
	return Identity{UserID: user}, nil
}

func newTestGateway(t *testing.T, authorize Authorizer) (*Registry, *httptest.Server) {
	t.Helper()
	registry := NewRegistry(zerolog.Nop())
	gw, err := NewGateway(AuthFunc(headerAuth), authorize, registry, zerolog.Nop(), GatewayConfig{
		HeartbeatInterval: time.Second,
		CheckOrigin:       func(*http.Request) bool { return true },
	})
	require.NoError(t, err)
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)
	return registry, srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGatewayDeliversChangeEvents(t *testing.T) {
	registry, srv := newTestGateway(t, nil)

	header := http.Header{"X-User-ID": []string{"owner-1"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "topic=menu:r1&topic=item:c1"), header)
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, func() bool { return registry.Watchers("item:c1") == 1 })

	registry.Deliver(types.ChangeEvent{EventID: "e0", Kind: types.KindMenu, Parent: "other", Action: types.ActionCreated})
	registry.Deliver(types.ChangeEvent{EventID: "e1", Kind: types.KindItem, Parent: "c1", Action: types.ActionReordered})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	ev, err := events.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "e1", ev.EventID)
	assert.Equal(t, types.ActionReordered, ev.Action)
}

func TestGatewayUnregistersOnClose(t *testing.T) {
	registry, srv := newTestGateway(t, nil)

	header := http.Header{"X-User-ID": []string{"owner-1"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "topic=banner:r1"), header)
	require.NoError(t, err)
	waitFor(t, func() bool { return registry.Watchers("banner:r1") == 1 })

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	waitFor(t, func() bool { return registry.Watchers("banner:r1") == 0 })
}

func TestGatewayRejectsRequests(t *testing.T) {
	_, srv := newTestGateway(t, func(_ context.Context, _ Identity, key types.ParentKey) error {
		if key.Parent == "secret" {
			return errors.New("not yours")
		}
		return nil
	})

	cases := []struct {
		name   string
		query  string
		user   string
		status int
	}{
		{"anonymous", "topic=menu:r1", "", http.StatusUnauthorized},
		{"no topic", "", "u1", http.StatusBadRequest},
		{"bad kind", "topic=table:r1", "u1", http.StatusBadRequest},
		{"forbidden", "topic=menu:secret", "u1", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header := http.Header{}
			if tc.user != "" {
				header.Set("X-User-ID", tc.user)
			}
			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tc.query), header)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestCloseAllSendsGoingAway(t *testing.T) {
	registry, srv := newTestGateway(t, nil)

	header := http.Header{"X-User-ID": []string{"owner-1"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "topic=menu:r1"), header)
	require.NoError(t, err)
	defer conn.Close()

	waitFor(t, func() bool { return registry.Watchers("menu:r1") == 1 })
	registry.CloseAll()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error %v", err)
	waitFor(t, func() bool { return registry.Watchers("menu:r1") == 0 })
}
