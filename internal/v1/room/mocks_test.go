package room

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liveroom/liveroom/internal/v1/types"
)

// MockClient implements types.ClientInterface and records every frame
// sent to it.
type MockClient struct {
	ID types.ConnectionIDType

	mu           sync.Mutex
	sent         [][]byte
	disconnected bool
}

func newMockClient(id string) *MockClient {
	return &MockClient{ID: types.ConnectionIDType(id)}
}

func (m *MockClient) GetID() types.ConnectionIDType { return m.ID }

func (m *MockClient) SendRaw(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.sent = append(m.sent, buf)
}

func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
}

func (m *MockClient) Disconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

func (m *MockClient) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// framesOfType decodes every recorded frame and returns those with the
// given type discriminator.
func (m *MockClient) framesOfType(t *testing.T, frameType string) []map[string]any {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]any
	for _, raw := range m.sent {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		if decoded["type"] == frameType {
			out = append(out, decoded)
		}
	}
	return out
}

// newPresence builds a presence user the way the hub does on connect.
func newPresence(userID string) *types.PresenceUser {
	now := time.Now().UnixMilli()
	return &types.PresenceUser{
		UserID:       types.UserIDType(userID),
		DisplayName:  types.DisplayNameType(userID),
		Color:        "#64B5F6",
		ConnectedAt:  now,
		OnlineStatus: types.StatusOnline,
		LastActiveAt: now,
	}
}

// joinedRoom creates a room with the given callbacks and connects n
// mock clients c1..cn with users u1..un.
func joinedRoom(t *testing.T, cfg Config, callbacks Callbacks, n int) (*Room, []*MockClient) {
	t.Helper()
	r := NewRoom("room-1", cfg, callbacks, nil)
	clients := make([]*MockClient, n)
	for i := range clients {
		c := newMockClient("c" + string(rune('1'+i)))
		r.HandleClientConnect(c, newPresence("u"+string(rune('1'+i))))
		clients[i] = c
	}
	return r, clients
}

func frameJSON(t *testing.T, v map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
