package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveroom/liveroom/internal/v1/colors"
	"github.com/liveroom/liveroom/internal/v1/room"
	"github.com/liveroom/liveroom/internal/v1/types"
)

func roomConfigWithMax(max int) room.Config {
	cfg := room.DefaultConfig()
	cfg.MaxConnections = max
	return cfg
}

func roomConfigWithCleanup(d time.Duration) room.Config {
	cfg := room.DefaultConfig()
	cfg.CleanupTimeout = d
	return cfg
}

func TestResolveIdentity_QueryParams(t *testing.T) {
	hub := NewHub(Options{})
	req := httptest.NewRequest(http.MethodGet, "/rooms/r1?userId=alice&displayName=Alice", nil)

	identity, err := hub.resolveIdentity(req)
	require.NoError(t, err)
	assert.Equal(t, types.UserIDType("alice"), identity.UserID)
	assert.Equal(t, types.DisplayNameType("Alice"), identity.DisplayName)
}

func TestResolveIdentity_DisplayNameDefaultsToUserID(t *testing.T) {
	hub := NewHub(Options{})
	req := httptest.NewRequest(http.MethodGet, "/rooms/r1?userId=alice", nil)

	identity, err := hub.resolveIdentity(req)
	require.NoError(t, err)
	assert.Equal(t, types.DisplayNameType("alice"), identity.DisplayName)
}

func TestResolveIdentity_GuestFallback(t *testing.T) {
	hub := NewHub(Options{})
	req := httptest.NewRequest(http.MethodGet, "/rooms/r1", nil)

	identity, err := hub.resolveIdentity(req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(identity.UserID), "guest-"))
	assert.Equal(t, string(identity.UserID), string(identity.DisplayName))

	// Guest ids are unique per connection.
	other, err := hub.resolveIdentity(req)
	require.NoError(t, err)
	assert.NotEqual(t, identity.UserID, other.UserID)
}

func TestResolveIdentity_AuthHandlerErrors(t *testing.T) {
	hub := NewHub(Options{
		Auth: types.AuthHandlerFunc(func(r *http.Request) (*types.AuthResult, error) {
			return nil, assert.AnError
		}),
	})
	req := httptest.NewRequest(http.MethodGet, "/rooms/r1?userId=alice", nil)

	_, err := hub.resolveIdentity(req)
	assert.Error(t, err)
}

func TestResolveIdentity_AuthHandlerEmptyIdentityRejected(t *testing.T) {
	hub := NewHub(Options{
		Auth: types.AuthHandlerFunc(func(r *http.Request) (*types.AuthResult, error) {
			return &types.AuthResult{}, nil
		}),
	})
	req := httptest.NewRequest(http.MethodGet, "/rooms/r1", nil)

	_, err := hub.resolveIdentity(req)
	assert.Error(t, err)
}

func TestResolveIdentity_AuthDisplayNameDefault(t *testing.T) {
	hub := NewHub(Options{
		Auth: types.AuthHandlerFunc(func(r *http.Request) (*types.AuthResult, error) {
			return &types.AuthResult{UserID: "sub-123"}, nil
		}),
	})
	req := httptest.NewRequest(http.MethodGet, "/rooms/r1", nil)

	identity, err := hub.resolveIdentity(req)
	require.NoError(t, err)
	assert.Equal(t, types.DisplayNameType("sub-123"), identity.DisplayName)
}

func TestNewPresenceUser(t *testing.T) {
	identity := &types.AuthResult{UserID: "alice", DisplayName: "Alice"}
	user := newPresenceUser(identity)

	assert.Equal(t, types.UserIDType("alice"), user.UserID)
	assert.Equal(t, types.StatusOnline, user.OnlineStatus)
	assert.Equal(t, colors.ForUser("alice"), user.Color)
	assert.Greater(t, user.ConnectedAt, int64(0))
	assert.Equal(t, user.ConnectedAt, user.LastActiveAt)
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"http://app.example.com", "https://studio.example.com"}

	cases := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"no origin header", "", true},
		{"exact match", "http://app.example.com", true},
		{"second entry", "https://studio.example.com", true},
		{"path ignored", "http://app.example.com/some/page", true},
		{"scheme mismatch", "https://app.example.com", false},
		{"host mismatch", "http://evil.example.com", false},
		{"subdomain mismatch", "http://sub.app.example.com", false},
		{"garbage origin", "://not-a-url", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/rooms/r1", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			err := validateOrigin(req, allowed)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidateOrigin_EmptyAllowList(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/rooms/r1", nil)
	req.Header.Set("Origin", "http://anything.example.com")
	assert.Error(t, validateOrigin(req, nil))
}

func TestNewConnectionID_Unique(t *testing.T) {
	seen := map[types.ConnectionIDType]bool{}
	for i := 0; i < 100; i++ {
		id := newConnectionID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
