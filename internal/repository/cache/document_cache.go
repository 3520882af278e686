package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"lobbydocs/internal/model"
	"lobbydocs/internal/repository"
)

const keyPrefix = "lobbydocs:document:"

// DocumentCache is a read-through cache in front of another DocumentRepository.
// Single records are cached by id; lists always go to the backing repository.
// Redis failures degrade to the backing repository and are logged.
type DocumentCache struct {
	next repository.DocumentRepository
	rdb  redis.Cmdable
	ttl  time.Duration
	log  logrus.FieldLogger
}

var _ repository.DocumentRepository = (*DocumentCache)(nil)

// NewDocumentCache wraps next with a Redis cache whose entries expire after ttl.
func NewDocumentCache(next repository.DocumentRepository, rdb redis.Cmdable, ttl time.Duration, log logrus.FieldLogger) *DocumentCache {
	return &DocumentCache{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.WithField("component", "cache"),
	}
}

func documentKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

// Create inserts through next and primes the cache with the stored record.
func (c *DocumentCache) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	stored, err := c.next.Create(ctx, doc)
	if err != nil {
		return nil, err
	}
	c.set(ctx, stored)
	return stored, nil
}

// FindByID serves from Redis when possible and fills the cache on a miss.
func (c *DocumentCache) FindByID(ctx context.Context, id int64) (*model.Document, error) {
	data, err := c.rdb.Get(ctx, documentKey(id)).Bytes()
	switch {
	case err == nil:
		var doc model.Document
		if jsonErr := json.Unmarshal(data, &doc); jsonErr == nil {
			return &doc, nil
		}
		c.log.WithField("document_id", id).Warn("discarding unreadable cache entry")
	case !errors.Is(err, redis.Nil):
		c.log.WithField("document_id", id).WithError(err).Warn("cache read failed")
	}

	doc, err := c.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.set(ctx, doc)
	return doc, nil
}

// List is not cached.
func (c *DocumentCache) List(ctx context.Context, f repository.ListFilter) ([]model.Document, error) {
	return c.next.List(ctx, f)
}

// Update writes through next and drops the cached entry.
func (c *DocumentCache) Update(ctx context.Context, doc *model.Document) (*model.Document, error) {
	updated, err := c.next.Update(ctx, doc)
	c.invalidate(ctx, doc.ID)
	return updated, err
}

// Delete removes the record through next and drops the cached entry.
func (c *DocumentCache) Delete(ctx context.Context, id int64) error {
	err := c.next.Delete(ctx, id)
	c.invalidate(ctx, id)
	return err
}

func (c *DocumentCache) set(ctx context.Context, doc *model.Document) {
	data, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, documentKey(doc.ID), string(data), c.ttl).Err(); err != nil {
		c.log.WithField("document_id", doc.ID).WithError(err).Warn("cache write failed")
	}
}

func (c *DocumentCache) invalidate(ctx context.Context, id int64) {
	if err := c.rdb.Del(ctx, documentKey(id)).Err(); err != nil {
		c.log.WithField("document_id", id).WithError(err).Warn("cache invalidation failed")
	}
}
