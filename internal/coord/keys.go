package coord

import "fmt"

// Key layout. Colon-separated namespaces so pattern invalidation stays a
// single Keys+Del pair per prefix.

func PresenceKey(userID string) string {
	return "presence:user:" + userID
}

func OccupancyKey(userID string) string {
	return "occupancy:user:" + userID
}

// OccupantsKey holds the set of identities currently joined to a room.
func OccupantsKey(roomID string) string {
	return "room:occupants:" + roomID
}

func RecentMessagesKey(roomID string) string {
	return "cache:messages:" + roomID
}

func RetryKey(roomID, userID string) string {
	return fmt.Sprintf("history:retry:%s:%s", roomID, userID)
}

func LoadingKey(roomID, userID string) string {
	return fmt.Sprintf("history:loading:%s:%s", roomID, userID)
}

func StreamKey(messageID string) string {
	return "stream:" + messageID
}

const RoomListCachePattern = "cache:roomlist:*"

func RoomListCacheKey(filter string) string {
	return "cache:roomlist:" + filter
}
