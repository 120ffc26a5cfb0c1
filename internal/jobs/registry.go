// Package jobs keeps the per-upload status records. Every backend hands out
// copies and replaces stored records whole, so a reader never sees a record
// halfway through an update.
package jobs

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("job not found")
	ErrExists   = errors.New("job already exists")
)

// Mutator edits a private copy of a record. Returning an error discards the
// edit.
type Mutator func(*Record) error

type Registry interface {
	Create(ctx context.Context, id, originalFilename string) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	Update(ctx context.Context, id string, mutate Mutator) (Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

var now = func() time.Time { return time.Now().UTC() }

func applyMutator(current Record, mutate Mutator) (Record, error) {
	next := current.clone()
	if err := mutate(&next); err != nil {
		return Record{}, err
	}
	next.ID = current.ID
	if next.Progress < 0 {
		next.Progress = 0
	}
	if next.Progress > 100 {
		next.Progress = 100
	}
	return next, nil
}
