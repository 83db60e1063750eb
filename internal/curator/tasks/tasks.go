// Package tasks defines the scheduled housekeeping jobs and their registry.
package tasks

import (
	"context"
	"log/slog"

	"github.com/leisuredna/curator/internal/config"
	"github.com/leisuredna/curator/internal/database"
	"github.com/leisuredna/curator/internal/session"
)

// ScheduledTaskFunc is the signature every scheduled task implements.
type ScheduledTaskFunc func(ctx context.Context) error

// TaskDeps bundles the dependencies tasks may need.
type TaskDeps struct {
	Logger   *slog.Logger
	Sessions *session.Manager
	Store    database.Store
	Config   *config.Config
}

// RegisterAllTasks returns the map of task name to task function consumed
// by the scheduler. Names must match the scheduler.tasks config keys.
func RegisterAllTasks(deps TaskDeps) map[string]ScheduledTaskFunc {
	return map[string]ScheduledTaskFunc{
		"reap_sessions":  NewReapSessionsTask(deps),
		"db_maintenance": NewSQLMaintenanceTask(deps),
	}
}

// NewReapSessionsTask evicts sessions idle longer than the configured
// maximum. Their durable record is already in the transcript store.
func NewReapSessionsTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "reap_sessions")
	return func(ctx context.Context) error {
		reaped := deps.Sessions.Reap(deps.Config.Session.MaxIdle)
		log.DebugContext(ctx, "Session reap pass complete", "reaped", reaped, "live", deps.Sessions.Count())
		return nil
	}
}

// NewSQLMaintenanceTask runs VACUUM on the message archive.
func NewSQLMaintenanceTask(deps TaskDeps) ScheduledTaskFunc {
	return func(ctx context.Context) error {
		return deps.Store.RunSQLMaintenance(ctx)
	}
}
