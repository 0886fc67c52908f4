package models

// Well-known local list IDs. Any other ID is a user-created list.
const (
	ListIDDefault  = "default"
	ListIDLove     = "love"
	ListIDTemp     = "temp"
	ListIDDownload = "download"
)

// List source categories carried in a playlist snapshot
const (
	ListSourceDefault  = "default"
	ListSourceLove     = "love"
	ListSourceTemp     = "temp"
	ListSourceDownload = "download"
	ListSourceUser     = "user"
)

// QualityInfo describes one available quality of a track (e.g. "320k")
type QualityInfo struct {
	Size string `json:"size,omitempty"`
	Hash string `json:"hash,omitempty"`
}

// Track is the wire descriptor of a music track shared inside a room
type Track struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Singer    string                 `json:"singer"`
	Album     string                 `json:"album"`
	Source    string                 `json:"source"`
	Interval  string                 `json:"interval,omitempty"` // duration hint, "mm:ss"
	PicURL    string                 `json:"pic_url,omitempty"`
	Qualities map[string]QualityInfo `json:"type,omitempty"`
}

// ListInfo is the display metadata of a local list
type ListInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source"`
}
