package rooms

import (
	"net/http"
	"paste-server/core"
	"sort"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	RoomResponse struct {
		ID         string `json:"id"`
		Users      int    `json:"users"`
		LastActive *int64 `json:"lastActive,omitempty"`
	}

	// ActiveRooms reports documents with connected editors.
	ActiveRooms interface {
		ActiveRooms() map[string]int
	}
)

// HandleList merges the live rooms with the activity remembered by the
// store, busiest and most recent first. activity may be nil.
func HandleList(live ActiveRooms, activity core.RoomActivity) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomMap := make(map[string]*RoomResponse)
		for id, count := range live.ActiveRooms() {
			roomMap[id] = &RoomResponse{ID: id, Users: count}
		}

		if activity != nil {
			storedRooms, err := activity.ListRooms(r.Context())
			if err != nil {
				logrus.WithError(err).Warn("Failed to list rooms from store")
			}
			for _, room := range storedRooms {
				entry, exists := roomMap[room.ID]
				if !exists {
					entry = &RoomResponse{ID: room.ID}
					roomMap[room.ID] = entry
				}
				if room.LastActive > 0 {
					lastActive := room.LastActive
					entry.LastActive = &lastActive
				}
			}
		}

		roomList := make([]RoomResponse, 0, len(roomMap))
		for _, entry := range roomMap {
			roomList = append(roomList, *entry)
		}
		sort.Slice(roomList, func(i, j int) bool {
			if roomList[i].Users != roomList[j].Users {
				return roomList[i].Users > roomList[j].Users
			}
			li, lj := lastActive(roomList[i]), lastActive(roomList[j])
			if li != lj {
				return li > lj
			}
			return roomList[i].ID < roomList[j].ID
		})

		render.JSON(w, r, roomList)
	}
}

func lastActive(room RoomResponse) int64 {
	if room.LastActive == nil {
		return 0
	}
	return *room.LastActive
}
