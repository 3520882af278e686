package events

import (
	"context"
	"time"

	"lobbydocs/internal/model"
)

// Type is the routing key of a document lifecycle event.
type Type string

const (
	DocumentCreated Type = "document.created"
	DocumentUpdated Type = "document.updated"
	DocumentDeleted Type = "document.deleted"
)

// Event describes a change to a document after it has been committed.
type Event struct {
	Type       Type           `json:"type"`
	Document   model.Document `json:"document"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type noop struct{}

func (noop) Publish(context.Context, Event) error { return nil }

// Noop returns a Publisher that drops every event.
func Noop() Publisher { return noop{} }
