package repository

import (
	"context"

	"lobbydocs/internal/model"
)

// DocumentRepository defines data access for documents.
// Persistence only; business rules live in the service.
type DocumentRepository interface {
	// Create inserts a new document record. ID is assigned by the backend.
	// Returns the stored document including the assigned ID.
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns a document by its ID or ErrNotFound.
	FindByID(ctx context.Context, id int64) (*model.Document, error)

	// List returns documents in ascending ID order, narrowed by the filter.
	List(ctx context.Context, f ListFilter) ([]model.Document, error)

	// Update overwrites file, filename, lobby_name and uploader of an existing row.
	// UploadDate is never written. Returns ErrNotFound when the row is missing.
	Update(ctx context.Context, doc *model.Document) (*model.Document, error)

	// Delete removes a document by ID. Returns ErrNotFound when the row is missing.
	Delete(ctx context.Context, id int64) error
}

// ListFilter narrows List. Zero values mean "no constraint"; Limit 0 returns every row.
type ListFilter struct {
	LobbyName string
	Limit     int
	Offset    int
}
