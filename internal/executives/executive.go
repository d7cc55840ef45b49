// Package executives reads executives owned by the identity subsystem.
// Nothing in this module writes to the executives table.
package executives

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no executive has the requested id.
var ErrNotFound = errors.New("executive not found")

// Executive is the read-only view of a user who can own visitors.
type Executive struct {
	ID          uuid.UUID
	DisplayName string
	Role        string
	Region      string
	IsActive    bool
	CreatedAt   time.Time
}

// InRegion reports whether the executive serves region, ignoring case and
// surrounding whitespace.
func (e Executive) InRegion(region string) bool {
	want := strings.TrimSpace(region)
	return want != "" && strings.EqualFold(strings.TrimSpace(e.Region), want)
}

// Provider supplies executives on demand.
type Provider interface {
	Get(ctx context.Context, id uuid.UUID) (Executive, error)
	// ListActive returns active executives ordered by creation time, then id.
	ListActive(ctx context.Context) ([]Executive, error)
}

var (
	_ Provider = (*Repository)(nil)
	_ Provider = (*Memory)(nil)
)
