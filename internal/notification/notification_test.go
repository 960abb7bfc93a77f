package notification

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotad/internal/clock"
	"quotad/internal/database"
	"quotad/internal/logger"
)

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sql": func(t *testing.T) Store {
			db, err := database.Open(context.Background(), "sqlite3", ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { db.Close() })
			s, err := NewSQLStore(context.Background(), db, database.DialectSQLite)
			require.NoError(t, err)
			return s
		},
	}
}

func newService(t *testing.T, store Store) (*Service, *clock.Fake) {
	fake := clock.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	hub := NewHub(logger.Discard())
	return NewService(store, hub, WithClock(fake), WithLogger(logger.Discard())), fake
}

func TestService(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			svc, fake := newService(t, factory(t))

			first, err := svc.Send(ctx, "alice", "hello")
			require.NoError(t, err)
			fake.Advance(time.Second)
			second, err := svc.Send(ctx, "alice", "again")
			require.NoError(t, err)
			_, err = svc.Send(ctx, "bob", "not yours")
			require.NoError(t, err)

			all, err := svc.List(ctx, "alice", nil)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, second.ID, all[0].ID, "newest first")
			assert.False(t, all[0].Read)

			require.NoError(t, svc.MarkRead(ctx, "alice", first.ID))
			read := true
			got, err := svc.List(ctx, "alice", &read)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, first.ID, got[0].ID)

			unread := false
			got, err = svc.List(ctx, "alice", &unread)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, second.ID, got[0].ID)

			require.NoError(t, svc.MarkUnread(ctx, "alice", first.ID))
			got, err = svc.List(ctx, "alice", &read)
			require.NoError(t, err)
			assert.Empty(t, got)

			// Other recipients cannot touch alice's notifications.
			assert.ErrorIs(t, svc.MarkRead(ctx, "bob", first.ID), ErrNotFound)
			assert.ErrorIs(t, svc.Clear(ctx, "bob", first.ID), ErrNotFound)

			require.NoError(t, svc.Clear(ctx, "alice", first.ID))
			assert.ErrorIs(t, svc.Clear(ctx, "alice", first.ID), ErrNotFound)
			assert.ErrorIs(t, svc.MarkRead(ctx, "alice", "missing"), ErrNotFound)
		})
	}
}

func TestService_RejectsBadContent(t *testing.T) {
	svc, _ := newService(t, NewMemoryStore())
	ctx := context.Background()

	_, err := svc.Send(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrInvalidContent)
	_, err = svc.Send(ctx, "alice", strings.Repeat("x", 1025))
	assert.ErrorIs(t, err, ErrInvalidContent)
	_, err = svc.Send(ctx, "", "hi")
	assert.Error(t, err)
}

func TestHub_PublishReachesRecipientOnly(t *testing.T) {
	hub := NewHub(logger.Discard())
	alice := hub.Subscribe("alice")
	bob := hub.Subscribe("bob")

	assert.Equal(t, 1, hub.Publish(&Notification{ID: "1", Recipient: "alice"}))

	select {
	case n := <-alice.C():
		assert.Equal(t, "1", n.ID)
	default:
		t.Fatal("alice got nothing")
	}
	select {
	case <-bob.C():
		t.Fatal("bob got alice's notification")
	default:
	}

	hub.Unsubscribe(alice)
	hub.Unsubscribe(alice)
	assert.Equal(t, 0, hub.Subscribers("alice"))
	_, ok := <-alice.C()
	assert.False(t, ok)
}

func TestHub_FullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(logger.Discard())
	sub := hub.Subscribe("alice")
	defer hub.Unsubscribe(sub)

	for i := 0; i < subscriberBuffer; i++ {
		assert.Equal(t, 1, hub.Publish(&Notification{Recipient: "alice"}))
	}
	assert.Equal(t, 0, hub.Publish(&Notification{Recipient: "alice"}))
}

func TestHub_StreamPushesOverWebSocket(t *testing.T) {
	svc, _ := newService(t, NewMemoryStore())
	hub := svc.Hub()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = hub.Stream(r.Context(), conn, "alice")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("alice") == 1 }, time.Second, 5*time.Millisecond)

	sent, err := svc.Send(context.Background(), "alice", "quota exhausted")
	require.NoError(t, err)

	var got Notification
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "quota exhausted", got.Content)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Subscribers("alice") == 0 }, time.Second, 5*time.Millisecond)
}
