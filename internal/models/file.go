package models

import "time"

// File is a stored upload such as an avatar.
type File struct {
	ID        string    `db:"id" json:"id"`
	Path      string    `db:"path" json:"path"`
	MimeType  string    `db:"mime_type" json:"mime_type"`
	SizeBytes int64     `db:"size_bytes" json:"size_bytes"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	URL       string    `db:"-" json:"url,omitempty"`
}
