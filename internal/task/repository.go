package task

import "context"

// Repository persists tasks one document per task. The Store writes through
// to it on every mutation and loads from it at startup.
type Repository interface {
	Save(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id string) error
	LoadAll(ctx context.Context) ([]*Task, error)
}
