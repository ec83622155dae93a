package transport

import (
	"sync"
	"time"

	"github.com/liveroom/liveroom/internal/v1/types"
)

// MockRoom implements types.Roomer
type MockRoom struct {
	mu              sync.Mutex
	connectCalls    int
	disconnectCalls int
	frameCalls      int
	lastFrame       []byte
}

func (m *MockRoom) GetID() types.RoomIDType { return "test-room" }

func (m *MockRoom) HandleClientConnect(client types.ClientInterface, user *types.PresenceUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
}

func (m *MockRoom) HandleClientDisconnect(client types.ClientInterface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectCalls++
}

func (m *MockRoom) HandleFrame(client types.ClientInterface, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameCalls++
	m.lastFrame = data
}

func (m *MockRoom) FrameCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameCalls
}

func (m *MockRoom) DisconnectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCalls
}

// MockConnection implements wsConnection
type MockConnection struct {
	ReadMessageFunc  func() (int, []byte, error)
	WriteMessageFunc func(int, []byte) error
	CloseFunc        func() error
}

func (m *MockConnection) ReadMessage() (int, []byte, error) {
	if m.ReadMessageFunc != nil {
		return m.ReadMessageFunc()
	}
	return 0, nil, nil
}

func (m *MockConnection) WriteMessage(messageType int, data []byte) error {
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}
	return nil
}

func (m *MockConnection) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockConnection) SetWriteDeadline(_ time.Time) error {
	return nil
}
