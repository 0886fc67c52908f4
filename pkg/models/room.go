package models

// Participant is a device attached to a room, keyed by user ID
type Participant struct {
	JoinedAt   int64  `json:"joinedAt"`
	DeviceName string `json:"deviceName"`
}

// SessionInfo is stored under sync_rooms/{roomId}/session_info
type SessionInfo struct {
	RoomCode     string                 `json:"roomCode"`
	CreatedAt    int64                  `json:"createdAt"`
	Participants map[string]Participant `json:"participants,omitempty"`
}

// PlaybackStatus is stored under playback_state/status
type PlaybackStatus struct {
	IsPlaying   bool    `json:"is_playing"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	UpdatedAt   int64   `json:"updated_at"`
}

// CurrentMusic is stored under playback_state/current_music. A missing value
// means nothing is playing.
type CurrentMusic struct {
	Track
	ListID string `json:"list_id,omitempty"`
}

// PlayInfo links the current track to a local list
type PlayInfo struct {
	PlayIndex       int    `json:"play_index"`
	PlayerListID    string `json:"player_list_id,omitempty"`
	PlayerPlayIndex int    `json:"player_play_index"`
}

// EmptyPlayInfo is the play info of a player with nothing queued
func EmptyPlayInfo() PlayInfo {
	return PlayInfo{PlayIndex: -1, PlayerPlayIndex: -1}
}

// PlaylistSnapshot is stored under sync_rooms/{roomId}/playlist
type PlaylistSnapshot struct {
	ListID     string  `json:"list_id"`
	ListName   string  `json:"list_name"`
	ListSource string  `json:"list_source"`
	Musics     []Track `json:"musics"`
	UpdatedAt  int64   `json:"updated_at"`
	Version    int64   `json:"version"`
}

// LocalPlayback is a point-in-time copy of the local player
type LocalPlayback struct {
	IsPlaying   bool     `json:"isPlaying"`
	CurrentTime float64  `json:"currentTime"`
	Duration    float64  `json:"duration"`
	ListID      string   `json:"listId,omitempty"`
	Track       *Track   `json:"track,omitempty"`
	PlayInfo    PlayInfo `json:"playInfo"`
}
