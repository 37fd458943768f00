package repositoryimpl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jarvishq/jarvis/internal/task"
	"github.com/jarvishq/jarvis/pkg/cerr"
	"github.com/jarvishq/jarvis/pkg/storage"
)

const tasksPrefix = "tasks"

// JSONRepository persists one JSON document per task through a storage
// backend. Field names and RFC 3339 timestamps are stable for external
// consumers.
type JSONRepository struct {
	storage storage.Storage
}

func NewJSONRepository(s storage.Storage) *JSONRepository {
	return &JSONRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.json", tasksPrefix, id)
}

func (r *JSONRepository) Save(ctx context.Context, t *task.Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("marshal task: %w", err))
	}
	if err := r.storage.Write(ctx, path(t.ID), data); err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}

func (r *JSONRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("task", err)
	}
	return nil
}

// LoadAll reads every persisted task, skipping documents that fail to parse.
// A malformed file costs one task, never the whole startup.
func (r *JSONRepository) LoadAll(ctx context.Context) ([]*task.Task, error) {
	paths, err := r.storage.List(ctx, tasksPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("tasks", err)
	}
	sort.Strings(paths)

	var all []*task.Task
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			slog.Warn("task repository: unreadable document", "path", p, "error", err)
			continue
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			slog.Warn("task repository: malformed document", "path", p, "error", err)
			continue
		}
		all = append(all, &t)
	}
	return all, nil
}
