package host

import "fmt"

// Redis key pattern helpers
//
// All keys and Pub/Sub channels are namespaced by room ID so that many rooms
// can share a single Redis server without touching each other's state.
//
// Key pattern: inkwell:{room_id}:state:{event_type}:{state_key}
// Channel pattern: inkwell:{room_id}:{feed}

// StateKey returns the Redis key holding one state event.
// Pattern: inkwell:{room_id}:state:{event_type}:{state_key}
func StateKey(roomID, eventType, stateKey string) string {
	return fmt.Sprintf("inkwell:%s:state:%s:%s", roomID, eventType, stateKey)
}

// StateTypePattern returns the MATCH pattern covering every state event of
// one type in a room. Used with SCAN by ListState.
func StateTypePattern(roomID, eventType string) string {
	return fmt.Sprintf("inkwell:%s:state:%s:*", roomID, eventType)
}

// StateEventsChannel returns the Pub/Sub channel carrying the room's state
// event feed.
// Pattern: inkwell:{room_id}:state_events
func StateEventsChannel(roomID string) string {
	return fmt.Sprintf("inkwell:%s:state_events", roomID)
}

// ToDeviceChannel returns the Pub/Sub channel for messages addressed to a
// single session.
// Pattern: inkwell:{room_id}:todevice:{session_id}
func ToDeviceChannel(roomID, sessionID string) string {
	return fmt.Sprintf("inkwell:%s:todevice:%s", roomID, sessionID)
}
