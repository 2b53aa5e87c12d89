package statusd

import (
	"encoding/json"
	"log"
	"time"

	"github.com/cartworks/tally/internal/sync"
)

// Handler formats core events as status messages. It bridges between the
// daemon's subscriptions and the WebSocket server.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a status server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		logger: logger,
	}
}

// OnSyncComplete broadcasts the outcome of a finished sync pass.
func (h *Handler) OnSyncComplete(out sync.Outcome) {
	data := SyncCompleteData{
		Status: out.Status.String(),
		Reason: string(out.Reason),
		Pushed: out.Pushed,
		Pulled: out.Pulled,
	}
	if out.Err != nil {
		data.Error = out.Err.Error()
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal sync data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncComplete,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// OnBadgeCount broadcasts a recomputed badge count.
func (h *Handler) OnBadgeCount(userID string, count int) {
	dataJSON, err := json.Marshal(BadgeData{UserID: userID, Count: count})
	if err != nil {
		h.logger.Printf("Failed to marshal badge data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeBadge,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
