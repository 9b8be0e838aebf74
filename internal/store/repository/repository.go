// Package repository is the gorm/Postgres adapter for store.Store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/store"
	"github.com/nodeflow-go/pkg/config"
)

// Repository persists workflow documents, execution records and execution
// logs in Postgres. Document-shaped fields ride in JSON columns via gorm's
// serializer tags on the domain types.
type Repository struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the schema.
func Open(cfg config.DatabaseConfig) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&workflow.Workflow{}, &workflow.Execution{}, &workflow.ExecutionLog{}, &Secret{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// New wraps an existing gorm handle. For tests with alternate drivers.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetWorkflowByID(ctx context.Context, id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&wf).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (r *Repository) GetExecutionByID(ctx context.Context, id string) (*workflow.Execution, error) {
	var exec workflow.Execution
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

func (r *Repository) UpdateExecutionStatus(ctx context.Context, exec *workflow.Execution) error {
	return r.db.WithContext(ctx).Save(exec).Error
}

func (r *Repository) AddExecutionLog(ctx context.Context, entry *workflow.ExecutionLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *Repository) UpdateWorkflowStats(ctx context.Context, workflowID string, success bool, durationMs int64) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"run_count":   gorm.Expr("run_count + 1"),
		"last_run_at": now,
	}
	if !success {
		updates["error_count"] = gorm.Expr("error_count + 1")
	}
	return r.db.WithContext(ctx).
		Model(&workflow.Workflow{}).
		Where("id = ?", workflowID).
		Updates(updates).Error
}

// CreateExecution inserts a fresh run record.
func (r *Repository) CreateExecution(ctx context.Context, exec *workflow.Execution) error {
	return r.db.WithContext(ctx).Create(exec).Error
}

// ExecutionLogs returns the ordered log for one execution.
func (r *Repository) ExecutionLogs(ctx context.Context, executionID string) ([]workflow.ExecutionLog, error) {
	var logs []workflow.ExecutionLog
	err := r.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("timestamp asc").
		Find(&logs).Error
	return logs, err
}
