// Package store persists benchmark results.
package store

import (
	"context"

	"github.com/patrykstefanski/async-bench/internal/model"
)

// Store defines the persistence operations for results.
type Store interface {
	SaveResult(ctx context.Context, r *model.Result) error
	GetResult(ctx context.Context, id string) (*model.Result, error)

	// ListResults returns up to limit results of suite, newest first. An
	// empty suite matches every suite and a non-positive limit means no
	// limit.
	ListResults(ctx context.Context, suite string, limit int) ([]*model.Result, error)

	Close() error
}
