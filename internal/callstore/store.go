// Package callstore is the document-store boundary for call records.
//
// Documents are raw, provider-shaped payloads; normalization happens in
// internal/calls. Every read is scoped to a tenant and ordered by
// (created_at DESC, id DESC), which is also the keyset used for cursors.
package callstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnavailable    = errors.New("callstore: store unavailable")
	ErrNotFound       = errors.New("callstore: document not found")
	ErrTenantRequired = errors.New("callstore: tenant_id required")
)

// Document is one persisted call document. Stores keep CreatedAt at
// millisecond precision.
type Document struct {
	ID        string
	TenantID  string
	CreatedAt time.Time
	Data      map[string]any
}

// Cursor marks a position in the (created_at DESC, id DESC) ordering.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// CursorOf returns the cursor positioned just after d.
func CursorOf(d Document) Cursor {
	return Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
}

// Query selects a tenant's documents, optionally filtered by agent and
// resumed after a cursor. Limit <= 0 means no limit.
type Query struct {
	TenantID string
	AgentID  string
	After    *Cursor
	Limit    int
}

// Snapshot is one delivery of a Watch subscription: all documents matching
// the query at that moment, or the error that prevented reading them.
type Snapshot struct {
	Documents []Document
	Err       error
}

type Store interface {
	Query(ctx context.Context, q Query) ([]Document, error)
	Get(ctx context.Context, tenantID, id string) (Document, error)
	// Watch delivers a snapshot immediately and again after every change
	// affecting the tenant. The channel is closed when ctx ends.
	Watch(ctx context.Context, q Query) (<-chan Snapshot, error)
}

// after reports whether d sorts strictly after c in descending order.
func after(d Document, c Cursor) bool {
	if d.CreatedAt.Equal(c.CreatedAt) {
		return d.ID < c.ID
	}
	return d.CreatedAt.Before(c.CreatedAt)
}

// newerFirst orders documents by created_at DESC, id DESC.
func newerFirst(a, b Document) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}

func agentOf(d Document) string {
	if s, ok := d.Data["agentId"].(string); ok {
		return s
	}
	return ""
}
