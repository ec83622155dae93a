package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/liveroom/liveroom/internal/v1/colors"
	"github.com/liveroom/liveroom/internal/v1/logging"
	"github.com/liveroom/liveroom/internal/v1/types"
	"go.uber.org/zap"
)

// resolveIdentity derives the connection's identity. A configured auth
// handler is authoritative; without one the userId/displayName query
// parameters are trusted, with a generated guest identity as the last
// resort.
func (h *Hub) resolveIdentity(r *http.Request) (*types.AuthResult, error) {
	if h.auth != nil {
		result, err := h.auth.Authenticate(r)
		if err != nil {
			return nil, fmt.Errorf("auth handler rejected connection: %w", err)
		}
		if result == nil || result.UserID == "" {
			return nil, fmt.Errorf("auth handler returned empty identity")
		}
		if result.DisplayName == "" {
			result.DisplayName = types.DisplayNameType(result.UserID)
		}
		return result, nil
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = "guest-" + uuid.NewString()[:8]
	}
	displayName := r.URL.Query().Get("displayName")
	if displayName == "" {
		displayName = userID
	}

	return &types.AuthResult{
		UserID:      types.UserIDType(userID),
		DisplayName: types.DisplayNameType(displayName),
	}, nil
}

// newConnectionID mints a unique id for one socket session.
func newConnectionID() types.ConnectionIDType {
	return types.ConnectionIDType(uuid.NewString())
}

// newPresenceUser builds the initial presence entry for a connection.
func newPresenceUser(identity *types.AuthResult) *types.PresenceUser {
	now := time.Now().UnixMilli()
	return &types.PresenceUser{
		UserID:       identity.UserID,
		DisplayName:  identity.DisplayName,
		Color:        colors.ForUser(string(identity.UserID)),
		ConnectedAt:  now,
		OnlineStatus: types.StatusOnline,
		LastActiveAt: now,
	}
}

// validateOrigin checks if the request origin is in the allowed list.
// Requests without an Origin header (non-browser clients) are allowed.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.GetLogger().Debug("No origin header - allowing non-browser client")
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(context.Background(), "Invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "Origin not in allowed list", zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// upgradeWebSocket performs the protocol upgrade. Origin enforcement is
// duplicated in CheckOrigin because gorilla consults it independently.
func (h *Hub) upgradeWebSocket(c *gin.Context) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}

	return conn, nil
}
