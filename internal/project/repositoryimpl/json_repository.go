package repositoryimpl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jarvishq/jarvis/internal/project"
	"github.com/jarvishq/jarvis/pkg/cerr"
	"github.com/jarvishq/jarvis/pkg/storage"
)

const projectsPrefix = "projects"

type JSONRepository struct {
	storage storage.Storage
}

func NewJSONRepository(s storage.Storage) *JSONRepository {
	return &JSONRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.json", projectsPrefix, id)
}

func (r *JSONRepository) Save(ctx context.Context, p *project.Project) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("marshal project: %w", err))
	}
	if err := r.storage.Write(ctx, path(p.ID), data); err != nil {
		return cerr.WrapStorageWriteError("project", err)
	}
	return nil
}

func (r *JSONRepository) Get(ctx context.Context, id string) (*project.Project, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, cerr.WrapStorageReadError("project", err)
	}
	var p project.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, cerr.NewError(cerr.Internal, "storage error", fmt.Errorf("unmarshal project: %w", err))
	}
	return &p, nil
}

func (r *JSONRepository) List(ctx context.Context) ([]*project.Project, error) {
	paths, err := r.storage.List(ctx, projectsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("projects", err)
	}
	sort.Strings(paths)

	var all []*project.Project
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			slog.Warn("project repository: unreadable document", "path", p, "error", err)
			continue
		}
		var proj project.Project
		if err := json.Unmarshal(data, &proj); err != nil {
			slog.Warn("project repository: malformed document", "path", p, "error", err)
			continue
		}
		all = append(all, &proj)
	}
	return all, nil
}

func (r *JSONRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return cerr.WrapStorageDeleteError("project", err)
	}
	return nil
}
