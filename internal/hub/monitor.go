package hub

import (
	"github.com/Achen718/socket-chat-ui-sub000/internal/lifecycle"
	"github.com/Achen718/socket-chat-ui-sub000/internal/model"
)

// MonitorService gathers hub and synchronization statistics for the
// operator endpoint.
type MonitorService struct {
	hub      *Hub
	watchdog *lifecycle.Watchdog
}

func NewMonitorService(hub *Hub, watchdog *lifecycle.Watchdog) *MonitorService {
	return &MonitorService{hub: hub, watchdog: watchdog}
}

// GetStats returns a point-in-time view of connections, rooms, and the
// synchronization loading tracks.
func (ms *MonitorService) GetStats() model.MonitorResponse {
	connections := ms.getConnectionStats()
	rooms := ms.getRoomStats()
	clients := ms.getClientList()

	status := "healthy"
	if connections.TotalConnected == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:      status,
		Connections: connections,
		Rooms:       rooms,
		Clients:     clients,
		Sync:        ms.getSyncStats(),
	}
}

func (ms *MonitorService) getSyncStats() model.SyncStats {
	if ms.watchdog == nil {
		return model.SyncStats{}
	}
	return model.SyncStats{
		ConversationsLoading: ms.watchdog.ConversationsLoading(),
		MessagesLoading:      ms.watchdog.MessagesLoading(),
		ConversationsError:   ms.watchdog.ConversationsError(),
		MessagesError:        ms.watchdog.MessagesError(),
	}
}

func (ms *MonitorService) getConnectionStats() model.ConnectionStats {
	ms.hub.onlineUsersMu.RLock()
	defer ms.hub.onlineUsersMu.RUnlock()

	stats := model.ConnectionStats{}
	for _, conns := range ms.hub.onlineUsers {
		stats.TotalConnected += len(conns)
		stats.TotalOnline++
	}
	return stats
}

func (ms *MonitorService) getRoomStats() model.RoomStats {
	stats := model.RoomStats{
		RoomDetails: make([]model.RoomInfo, 0),
	}

	for _, bucket := range ms.hub.shards {
		bucket.RLock()
		for conversationID, room := range bucket.rooms {
			members := make(map[string]bool, len(room))
			for _, c := range room {
				members[c.userID] = true
			}
			memberIDs := make([]string, 0, len(members))
			for id := range members {
				memberIDs = append(memberIDs, id)
			}

			stats.RoomDetails = append(stats.RoomDetails, model.RoomInfo{
				ConversationID: conversationID,
				TotalMembers:   len(members),
				MemberIDs:      memberIDs,
			})
			stats.TotalRooms++
		}
		bucket.RUnlock()
	}

	return stats
}

func (ms *MonitorService) getClientList() []model.ClientInfo {
	ms.hub.onlineUsersMu.RLock()
	defer ms.hub.onlineUsersMu.RUnlock()

	clients := make([]model.ClientInfo, 0, len(ms.hub.onlineUsers))
	for _, conns := range ms.hub.onlineUsers {
		for _, c := range conns {
			clients = append(clients, model.ClientInfo{
				ClientID:       c.ID,
				UserID:         c.userID,
				ConversationID: c.ConversationID,
			})
		}
	}
	return clients
}
