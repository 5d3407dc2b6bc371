// Package callcache holds the most recently fetched call records per tenant.
//
// An entry is valid while its age is within the TTL and is considered stale
// once it is older than half the TTL; stale entries are still served so the
// caller can refresh in the background. A miss is always safe: it only costs
// an extra fetch.
package callcache

import (
	"context"
	"errors"
	"time"

	"voiceai-dashboard/internal/calls"
)

const DefaultTTL = 5 * time.Minute

var ErrTenantRequired = errors.New("callcache: tenant_id required")

// Entry is a read of a tenant's newest records.
type Entry struct {
	Records []calls.Record `json:"records"`
	// NextCursor continues the read after the last record. It is empty
	// when the store held nothing older at fetch time.
	NextCursor string `json:"next_cursor,omitempty"`
}

// Covers reports whether the entry answers a read of up to limit records.
func (e Entry) Covers(limit int) bool {
	return e.NextCursor == "" || len(e.Records) >= limit
}

type Cache interface {
	// Get returns the tenant's entry if it is within TTL.
	// Expired entries are removed and reported as a miss.
	Get(ctx context.Context, tenantID string) (Entry, bool, error)
	// Set replaces the tenant's entry unconditionally, stamped with now.
	Set(ctx context.Context, tenantID string, e Entry) error
	// SetAt replaces the entry only if fetchedAt is not older than the stored
	// entry's fetch time. It reports whether the write was applied.
	SetAt(ctx context.Context, tenantID string, e Entry, fetchedAt time.Time) (bool, error)
	Invalidate(ctx context.Context, tenantID string) error
	// IsStale is true when there is no valid entry or it is older than TTL/2.
	IsStale(ctx context.Context, tenantID string) (bool, error)
}

const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultStale = "stale"
)

// classify returns whether an entry of the given age is valid and stale.
func classify(age, ttl time.Duration) (valid, stale bool) {
	valid = age <= ttl
	stale = !valid || age > ttl/2
	return valid, stale
}
