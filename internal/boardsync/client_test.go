package boardsync

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogjoe/online-collaborative-project-sub000/internal/auth"
	"github.com/fogjoe/online-collaborative-project-sub000/internal/realtime"
)

var clientTestSecret = []byte("boardsync-test-secret")

type staticResolver map[string]realtime.Identity

func (r staticResolver) ResolveIdentity(_ context.Context, userID string) (realtime.Identity, error) {
	identity, ok := r[userID]
	if !ok {
		return realtime.Identity{}, realtime.ErrUnknownUser
	}
	return identity, nil
}

type staticAccess map[string]map[string]bool

func (a staticAccess) HasProjectAccess(_ context.Context, projectID, userID string) (bool, error) {
	return a[projectID][userID], nil
}

type clientFixture struct {
	bridge *realtime.Bridge
	wsURL  string
}

func setupServer(t *testing.T) *clientFixture {
	t.Helper()
	registry := realtime.NewRegistry()
	bridge := realtime.NewBridge(registry)
	gw := realtime.NewGateway(clientTestSecret,
		staticResolver{
			"u1": {UserID: "u1", Name: "Avery"},
			"u2": {UserID: "u2", Name: "Blake"},
		},
		staticAccess{"42": {"u1": true, "u2": true}},
		registry, bridge)
	server := httptest.NewServer(gw)
	t.Cleanup(server.Close)
	return &clientFixture{
		bridge: bridge,
		wsURL:  "ws" + strings.TrimPrefix(server.URL, "http"),
	}
}

func clientToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken(clientTestSecret, auth.Claims{
		Sub:  userID,
		Name: "user " + userID,
		JTI:  "jti-" + userID,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return token
}

func TestClient_JoinBootstrapsViewerRoster(t *testing.T) {
	fx := setupServer(t)
	store := NewStore("u1", nil)

	client, err := Dial(context.Background(), fx.wsURL, clientToken(t, "u1"), store, nil)
	require.NoError(t, err)
	defer client.Close()

	result, err := client.Join("42")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, store.Viewers(), 1)
	assert.Equal(t, "u1", store.Viewers()[0].UserID)
}

func TestClient_JoinDenialDoesNotCloseConnection(t *testing.T) {
	fx := setupServer(t)
	store := NewStore("u2", nil)

	client, err := Dial(context.Background(), fx.wsURL, clientToken(t, "u2"), store, nil)
	require.NoError(t, err)
	defer client.Close()

	result, err := client.Join("no-such-project")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "project access denied", result.Message)

	result, err = client.Join("42")
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestClient_BroadcastsMergeIntoStoreWithSelfFilter(t *testing.T) {
	fx := setupServer(t)

	storeA := NewStore("u1", nil)
	clientA, err := Dial(context.Background(), fx.wsURL, clientToken(t, "u1"), storeA, nil)
	require.NoError(t, err)
	defer clientA.Close()
	resultA, err := clientA.Join("42")
	require.NoError(t, err)
	require.True(t, resultA.Success)

	storeB := NewStore("u2", nil)
	clientB, err := Dial(context.Background(), fx.wsURL, clientToken(t, "u2"), storeB, nil)
	require.NoError(t, err)
	defer clientB.Close()
	resultB, err := clientB.Join("42")
	require.NoError(t, err)
	require.True(t, resultB.Success)

	// A learns about B's arrival through the presence broadcast.
	require.Eventually(t, func() bool {
		return len(storeA.Viewers()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// A REST mutation by u1 fans out to the whole room; u1's own store
	// drops it, u2's store applies it.
	fx.bridge.Publish(realtime.CardCreated{
		ProjectID: "42",
		Card:      realtime.CardPayload{ID: "c1", ListID: "l1", ProjectID: "42", Title: "Ship it", Order: 1},
		Actor:     realtime.Actor{ID: "u1", Name: "Avery"},
	})

	require.Eventually(t, func() bool {
		return len(storeB.Cards("l1")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, storeA.Cards("l1"), "self-originated event must not re-apply")
}

func TestClient_OfflineCallbackFiresOnDrop(t *testing.T) {
	fx := setupServer(t)
	store := NewStore("u1", nil)

	offline := make(chan error, 1)
	client, err := Dial(context.Background(), fx.wsURL, clientToken(t, "u1"), store, func(err error) {
		offline <- err
	})
	require.NoError(t, err)
	result, err := client.Join("42")
	require.NoError(t, err)
	require.True(t, result.Success)

	// Kill the transport underneath the client.
	require.NoError(t, client.ws.UnderlyingConn().Close())

	select {
	case err := <-offline:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("offline callback never fired")
	}
}
