package domain

import "time"

// Artifact is the finalized copy of one publishing lifetime.
type Artifact struct {
	RoomID      RoomID    `json:"room_id"`
	Name        string    `json:"name"`
	Path        string    `json:"-"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	Finalized   bool      `json:"finalized"`
}

// Recording is what the catalog keeps once an artifact reached the store.
type Recording struct {
	RoomID      RoomID    `json:"room_id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
	UploadedAt  time.Time `json:"uploaded_at"`
}
