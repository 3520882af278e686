package model

import "time"

// DefaultUploader is stored when a document is created without an uploader.
const DefaultUploader = "Anonymous"

// Document is a stored PDF paired with the metadata a lobby sees.
// File holds the storage key of the blob, not its content.
type Document struct {
	ID         int64     `json:"id"`
	File       string    `json:"file"`
	Filename   string    `json:"filename"`
	UploadDate time.Time `json:"upload_date"`
	LobbyName  string    `json:"lobby_name"`
	Uploader   string    `json:"uploader"`
}
