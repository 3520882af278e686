package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"lobbydocs/internal/model"
	"lobbydocs/internal/repository"
)

const documentColumns = `id, file, filename, upload_date, lobby_name, uploader`

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*model.Document, error) {
	var d model.Document
	if err := s.Scan(
		&d.ID,
		&d.File,
		&d.Filename,
		&d.UploadDate,
		&d.LobbyName,
		&d.Uploader,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// Create inserts a new document row and returns the stored record with its generated ID.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	const q = `
		INSERT INTO documents (file, filename, upload_date, lobby_name, uploader)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + documentColumns
	row := r.db.QueryRowContext(ctx, q,
		doc.File,
		doc.Filename,
		doc.UploadDate,
		doc.LobbyName,
		doc.Uploader,
	)
	return scanDocument(row)
}

// FindByID fetches a single document by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id int64) (*model.Document, error) {
	const q = `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE id = $1
	`
	return scanDocument(r.db.QueryRowContext(ctx, q, id))
}

// List returns documents ordered by primary key, optionally filtered by lobby and paged.
func (r *DocumentPostgres) List(ctx context.Context, f repository.ListFilter) ([]model.Document, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`SELECT ` + documentColumns + ` FROM documents`)
	if f.LobbyName != "" {
		args = append(args, f.LobbyName)
		fmt.Fprintf(&sb, ` WHERE lobby_name = $%d`, len(args))
	}
	sb.WriteString(` ORDER BY id ASC`)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		fmt.Fprintf(&sb, ` OFFSET $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Update rewrites the mutable columns. upload_date is left untouched.
func (r *DocumentPostgres) Update(ctx context.Context, doc *model.Document) (*model.Document, error) {
	const q = `
		UPDATE documents
		SET file = $1, filename = $2, lobby_name = $3, uploader = $4
		WHERE id = $5
		RETURNING ` + documentColumns
	row := r.db.QueryRowContext(ctx, q,
		doc.File,
		doc.Filename,
		doc.LobbyName,
		doc.Uploader,
		doc.ID,
	)
	return scanDocument(row)
}

// Delete removes a document by ID.
func (r *DocumentPostgres) Delete(ctx context.Context, id int64) error {
	const q = `DELETE FROM documents WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
