package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lobbydocs/internal/events"
	"lobbydocs/internal/logging"
	"lobbydocs/internal/model"
	"lobbydocs/internal/repository"
	"lobbydocs/internal/storage"
)

const defaultContentType = "application/pdf"

var tracer = otel.Tracer("lobbydocs/internal/service")

// FileUpload is an incoming file stream with the metadata the client sent along with it.
type FileUpload struct {
	Reader      io.Reader
	Name        string
	Size        int64
	ContentType string
}

// CreateDocumentInput carries the fields of a create request.
// A nil Uploader means the field was absent and DefaultUploader applies.
type CreateDocumentInput struct {
	File      *FileUpload
	Filename  string
	LobbyName string
	Uploader  *string
}

// UpdateDocumentInput carries the fields of an update request. Nil fields were absent.
// With Replace set, absent metadata is reset to its create default (PUT); otherwise
// absent fields keep their stored value (PATCH).
type UpdateDocumentInput struct {
	File      *FileUpload
	Filename  *string
	LobbyName *string
	Uploader  *string
	Replace   bool
}

// ListFilter narrows and pages List results. Limit 0 returns every match.
type ListFilter struct {
	LobbyName string
	Limit     int
	Offset    int
}

// Download is an open document body. The caller owns Body and must close it.
type Download struct {
	Document *model.Document
	Body     io.ReadCloser
	Info     storage.ObjectInfo
}

// DocumentService defines the use cases for handling documents.
type DocumentService interface {
	// Create validates the upload, stores the blob, then saves the record.
	// The blob is removed again if the record cannot be saved.
	Create(ctx context.Context, in CreateDocumentInput) (*model.Document, error)

	// List returns documents ordered by ascending id.
	List(ctx context.Context, f ListFilter) ([]model.Document, error)

	// Get returns a single document by its ID.
	Get(ctx context.Context, id int64) (*model.Document, error)

	// Update changes metadata and optionally swaps the stored file.
	Update(ctx context.Context, id int64, in UpdateDocumentInput) (*model.Document, error)

	// Delete removes the record, then its blob.
	Delete(ctx context.Context, id int64) error

	// Download opens the stored file of a document.
	Download(ctx context.Context, id int64) (*Download, error)

	// DownloadURL returns a presigned URL for the stored file of a document.
	DownloadURL(ctx context.Context, id int64, expiry time.Duration) (string, error)
}

// Option configures a documentService.
type Option func(*documentService)

// WithPublisher sets where lifecycle events are sent.
func WithPublisher(p events.Publisher) Option {
	return func(s *documentService) { s.events = p }
}

// WithLogger sets the logger for background failures that are not returned to callers.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *documentService) { s.log = log }
}

// WithMetrics enables the upload counters.
func WithMetrics(m *Metrics) Option {
	return func(s *documentService) { s.metrics = m }
}

// WithKeyPrefix sets the storage key prefix. Defaults to "documents".
func WithKeyPrefix(prefix string) Option {
	return func(s *documentService) { s.prefix = prefix }
}

type documentService struct {
	store   storage.Storage
	repo    repository.DocumentRepository
	events  events.Publisher
	log     logrus.FieldLogger
	metrics *Metrics
	prefix  string
	now     func() time.Time
	newKey  func(prefix, name string) string
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(store storage.Storage, repo repository.DocumentRepository, opts ...Option) DocumentService {
	s := &documentService{
		store:  store,
		repo:   repo,
		events: events.Noop(),
		log:    logging.Discard(),
		prefix: "documents",
		now:    func() time.Time { return time.Now().UTC() },
		newKey: objectKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// objectKey keeps the client's base name readable after a unique prefix.
func objectKey(prefix, name string) string {
	return path.Join(prefix, uuid.NewString()+"-"+path.Base(name))
}

func (s *documentService) Create(ctx context.Context, in CreateDocumentInput) (doc *model.Document, err error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Create")
	defer func() { endSpan(span, err) }()

	if in.File == nil || in.File.Reader == nil {
		return nil, ErrFileRequired
	}
	if err := ValidateFileExtension(in.File.Name); err != nil {
		return nil, err
	}
	uploader := model.DefaultUploader
	if in.Uploader != nil {
		uploader = *in.Uploader
	}
	if err := ValidateMetadata(in.Filename, in.LobbyName, uploader); err != nil {
		return nil, err
	}

	key, err := s.putFile(ctx, in.File)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("document.key", key))

	stored, err := s.repo.Create(ctx, &model.Document{
		File:       key,
		Filename:   in.Filename,
		UploadDate: s.now(),
		LobbyName:  in.LobbyName,
		Uploader:   uploader,
	})
	if err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, storageErr("save document", fmt.Errorf("%v; rollback delete failed: %w", err, delErr))
		}
		return nil, storageErr("save document", err)
	}

	s.metrics.observeUpload(in.File.Size)
	s.publish(ctx, events.DocumentCreated, stored)
	return stored, nil
}

func (s *documentService) List(ctx context.Context, f ListFilter) (docs []model.Document, err error) {
	ctx, span := tracer.Start(ctx, "DocumentService.List")
	defer func() { endSpan(span, err) }()

	if f.Limit < 0 || f.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidInput)
	}

	docs, err = s.repo.List(ctx, repository.ListFilter{
		LobbyName: f.LobbyName,
		Limit:     f.Limit,
		Offset:    f.Offset,
	})
	if err != nil {
		return nil, storageErr("list documents", err)
	}
	return docs, nil
}

func (s *documentService) Get(ctx context.Context, id int64) (doc *model.Document, err error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Get", trace.WithAttributes(attribute.Int64("document.id", id)))
	defer func() { endSpan(span, err) }()

	return s.find(ctx, id)
}

func (s *documentService) Update(ctx context.Context, id int64, in UpdateDocumentInput) (doc *model.Document, err error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Update", trace.WithAttributes(attribute.Int64("document.id", id)))
	defer func() { endSpan(span, err) }()

	current, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *current
	if in.Replace {
		next.Filename, next.LobbyName, next.Uploader = "", "", model.DefaultUploader
	}
	if in.Filename != nil {
		next.Filename = *in.Filename
	}
	if in.LobbyName != nil {
		next.LobbyName = *in.LobbyName
	}
	if in.Uploader != nil {
		next.Uploader = *in.Uploader
	}
	if err := ValidateMetadata(next.Filename, next.LobbyName, next.Uploader); err != nil {
		return nil, err
	}

	var newKey string
	if in.File != nil {
		if in.File.Reader == nil {
			return nil, ErrFileRequired
		}
		if err := ValidateFileExtension(in.File.Name); err != nil {
			return nil, err
		}
		if newKey, err = s.putFile(ctx, in.File); err != nil {
			return nil, err
		}
		next.File = newKey
	}

	updated, err := s.repo.Update(ctx, &next)
	if err != nil {
		if newKey != "" {
			s.removeBlob(ctx, newKey)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("update document", err)
	}

	if newKey != "" {
		s.metrics.observeUpload(in.File.Size)
		s.removeBlob(ctx, current.File)
	}
	s.publish(ctx, events.DocumentUpdated, updated)
	return updated, nil
}

func (s *documentService) Delete(ctx context.Context, id int64) (err error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Delete", trace.WithAttributes(attribute.Int64("document.id", id)))
	defer func() { endSpan(span, err) }()

	doc, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return storageErr("delete document", err)
	}

	s.removeBlob(ctx, doc.File)
	s.publish(ctx, events.DocumentDeleted, doc)
	return nil
}

func (s *documentService) Download(ctx context.Context, id int64) (d *Download, err error) {
	ctx, span := tracer.Start(ctx, "DocumentService.Download", trace.WithAttributes(attribute.Int64("document.id", id)))
	defer func() { endSpan(span, err) }()

	doc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	body, info, err := s.store.Get(ctx, doc.File)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: stored file %s is missing", ErrNotFound, doc.File)
		}
		return nil, storageErr("open stored file", err)
	}
	if info.ContentType == "" {
		info.ContentType = defaultContentType
	}
	return &Download{Document: doc, Body: body, Info: info}, nil
}

func (s *documentService) DownloadURL(ctx context.Context, id int64, expiry time.Duration) (u string, err error) {
	ctx, span := tracer.Start(ctx, "DocumentService.DownloadURL", trace.WithAttributes(attribute.Int64("document.id", id)))
	defer func() { endSpan(span, err) }()

	doc, err := s.find(ctx, id)
	if err != nil {
		return "", err
	}
	u, err = s.store.PresignGet(ctx, doc.File, expiry, doc.Filename)
	if err != nil {
		return "", storageErr("presign download", err)
	}
	return u, nil
}

func (s *documentService) find(ctx context.Context, id int64) (*model.Document, error) {
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("find document", err)
	}
	return doc, nil
}

func (s *documentService) putFile(ctx context.Context, f *FileUpload) (string, error) {
	key := s.newKey(s.prefix, f.Name)
	contentType := f.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	size := f.Size
	if size <= 0 {
		size = -1
	}

	info, err := s.store.Put(ctx, key, f.Reader, storage.PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata:    map[string]string{"original-filename": path.Base(f.Name)},
	})
	if err != nil {
		return "", storageErr("upload to storage", err)
	}
	if info.Key != "" {
		key = info.Key
	}
	return key, nil
}

// removeBlob deletes an object that no record references any more. Failures leave an
// orphaned object behind and are only logged.
func (s *documentService) removeBlob(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil {
		s.log.WithFields(logrus.Fields{
			"component": "service",
			"key":       key,
		}).WithError(err).Warn("failed to remove stored file")
	}
}

func (s *documentService) publish(ctx context.Context, t events.Type, doc *model.Document) {
	err := s.events.Publish(ctx, events.Event{Type: t, Document: *doc, OccurredAt: s.now()})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"component":   "events",
			"event":       string(t),
			"document_id": doc.ID,
		}).WithError(err).Warn("failed to publish document event")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
