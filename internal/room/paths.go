package room

import "roomsync/internal/store"

// RoomsRoot is the parent of every room subtree
const RoomsRoot = "sync_rooms"

// RoomCodeField is the path of the room code below a room
const RoomCodeField = "session_info/roomCode"

func RoomPath(roomID string) string {
	return store.JoinPath(RoomsRoot, roomID)
}

func SessionInfoPath(roomID string) string {
	return store.JoinPath(RoomPath(roomID), "session_info")
}

func ParticipantsPath(roomID string) string {
	return store.JoinPath(SessionInfoPath(roomID), "participants")
}

func ParticipantPath(roomID, userID string) string {
	return store.JoinPath(ParticipantsPath(roomID), userID)
}

func PlaybackStatePath(roomID string) string {
	return store.JoinPath(RoomPath(roomID), "playback_state")
}

func ControllerPath(roomID string) string {
	return store.JoinPath(PlaybackStatePath(roomID), "controller_id")
}

func StatusPath(roomID string) string {
	return store.JoinPath(PlaybackStatePath(roomID), "status")
}

func CurrentMusicPath(roomID string) string {
	return store.JoinPath(PlaybackStatePath(roomID), "current_music")
}

func PlayInfoPath(roomID string) string {
	return store.JoinPath(PlaybackStatePath(roomID), "play_info")
}

func PlaylistPath(roomID string) string {
	return store.JoinPath(RoomPath(roomID), "playlist")
}
