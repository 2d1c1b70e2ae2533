package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/actionrpc/internal/connector"
	"github.com/danmuck/actionrpc/internal/inference"
)

type fixtureFile struct {
	DefaultService  string           `toml:"default_service"`
	DefaultTaskType string           `toml:"default_task_type"`
	Models          []modelFixture   `toml:"models"`
	SyncJobs        []syncJobFixture `toml:"sync_jobs"`
}

type modelFixture struct {
	InferenceID     string            `toml:"inference_id"`
	TaskType        string            `toml:"task_type"`
	Service         string            `toml:"service"`
	ServiceSettings map[string]string `toml:"service_settings"`
	TaskSettings    map[string]string `toml:"task_settings"`
}

type syncJobFixture struct {
	ID          string    `toml:"id"`
	ConnectorID string    `toml:"connector_id"`
	Status      string    `toml:"status"`
	CreatedAt   time.Time `toml:"created_at"`
}

type fixtures struct {
	Models   []*inference.ModelConfigurations
	SyncJobs []connector.SyncJob
}

// loadFixtures reads models and sync jobs to preload into the in-memory
// stores. Unknown keys are rejected so typos do not silently drop data.
func loadFixtures(path string) (fixtures, error) {
	var raw fixtureFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fixtures{}, fmt.Errorf("load fixtures: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fixtures{}, fmt.Errorf("load fixtures: unknown key %q", undecoded[0].String())
	}

	defaultService := ""
	if meta.IsDefined("default_service") {
		defaultService = strings.TrimSpace(raw.DefaultService)
	}
	defaultTaskType := inference.AnyTask.String()
	if meta.IsDefined("default_task_type") {
		defaultTaskType = raw.DefaultTaskType
	}

	var out fixtures
	for i, m := range raw.Models {
		id := strings.TrimSpace(m.InferenceID)
		if id == "" {
			return fixtures{}, fmt.Errorf("models[%d]: inference_id is required", i)
		}
		taskType := m.TaskType
		if strings.TrimSpace(taskType) == "" {
			taskType = defaultTaskType
		}
		tt, err := inference.ParseTaskType(taskType)
		if err != nil {
			return fixtures{}, fmt.Errorf("models[%d]: %w", i, err)
		}
		service := strings.TrimSpace(m.Service)
		if service == "" {
			service = defaultService
		}
		out.Models = append(out.Models, &inference.ModelConfigurations{
			InferenceEntityID: id,
			TaskType:          tt,
			Service:           service,
			ServiceSettings:   m.ServiceSettings,
			TaskSettings:      m.TaskSettings,
		})
	}
	for i, j := range raw.SyncJobs {
		id := strings.TrimSpace(j.ID)
		if id == "" {
			return fixtures{}, fmt.Errorf("sync_jobs[%d]: id is required", i)
		}
		out.SyncJobs = append(out.SyncJobs, connector.SyncJob{
			ID:          id,
			ConnectorID: strings.TrimSpace(j.ConnectorID),
			Status:      strings.TrimSpace(j.Status),
			CreatedAt:   j.CreatedAt,
		})
	}
	return out, nil
}

func (f fixtures) apply(models *inference.MemoryModelStore, jobs *connector.MemorySyncJobStore) {
	for _, m := range f.Models {
		models.Put(m)
	}
	for _, j := range f.SyncJobs {
		jobs.Put(j)
	}
}
