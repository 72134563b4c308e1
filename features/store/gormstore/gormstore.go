// Package gormstore persists workflows, executions, trigger registrations,
// and credentials through GORM. SQLite backs tests and single-node deployments; Postgres backs
// shared deployments. The one Store type implements the workflow, execution,
// and credential store contracts so wiring stays a single value.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/flowmesh/flowmesh/runtime/credential"
	"github.com/flowmesh/flowmesh/runtime/execution"
	"github.com/flowmesh/flowmesh/runtime/trigger"
	"github.com/flowmesh/flowmesh/runtime/workflow"
)

type (
	// Store is the GORM-backed persistence layer.
	Store struct {
		db *gorm.DB
	}

	workflowModel struct {
		ID         string `gorm:"primaryKey"`
		Name       string
		OwnerID    string `gorm:"index"`
		Definition []byte
		UpdatedAt  time.Time
	}

	executionModel struct {
		ID               string `gorm:"primaryKey"`
		WorkflowID       string `gorm:"index"`
		Status           string
		Mode             string
		StartNodeID      string
		TriggerData      []byte
		WorkflowSnapshot []byte
		StartedAt        time.Time
		FinishedAt       *time.Time
		Error            []byte
	}

	nodeExecutionModel struct {
		ID          string `gorm:"primaryKey"`
		ExecutionID string `gorm:"index"`
		NodeID      string
		NodeType    string
		Status      string
		InputData   []byte
		OutputData  []byte
		Error       []byte
		StartedAt   time.Time
		FinishedAt  *time.Time
	}

	triggerModel struct {
		ID         string `gorm:"primaryKey"`
		WorkflowID string `gorm:"index"`
		NodeID     string
		Type       string
		Settings   []byte
		Active     bool `gorm:"index"`
	}

	credentialModel struct {
		ID            string `gorm:"primaryKey"`
		OwnerID       string `gorm:"index"`
		Type          string
		Name          string
		EncryptedData []byte
		ExpiresAt     *time.Time
		UpdatedAt     time.Time
	}
)

func (workflowModel) TableName() string      { return "workflows" }
func (executionModel) TableName() string     { return "executions" }
func (nodeExecutionModel) TableName() string { return "node_executions" }
func (triggerModel) TableName() string       { return "triggers" }
func (credentialModel) TableName() string    { return "credentials" }

// New wraps an existing gorm.DB and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&workflowModel{}, &executionModel{}, &nodeExecutionModel{}, &triggerModel{}, &credentialModel{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenSQLite opens (or creates) a SQLite database at the given path. Use
// ":memory:" for ephemeral test databases.
func OpenSQLite(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	return New(db)
}

// OpenPostgres connects to a Postgres database with the given DSN.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	return New(db)
}

// LoadWorkflow implements workflow.Store.
func (s *Store) LoadWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	var m workflowModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("workflow %s not found", id)
		}
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(m.Definition, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", id, err)
	}
	return &wf, nil
}

// SaveWorkflow implements workflow.Store with create-or-replace semantics.
func (s *Store) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	definition, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", wf.ID, err)
	}
	m := workflowModel{ID: wf.ID, Name: wf.Name, OwnerID: wf.OwnerID, Definition: definition}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", wf.ID, err)
	}
	return nil
}

// CreateExecution implements execution.Store.
func (s *Store) CreateExecution(ctx context.Context, ex *execution.Execution) error {
	m := executionModel{
		ID:               ex.ID,
		WorkflowID:       ex.WorkflowID,
		Status:           string(ex.Status),
		Mode:             ex.Mode,
		StartNodeID:      ex.StartNodeID,
		WorkflowSnapshot: ex.WorkflowSnapshot,
		StartedAt:        ex.StartedAt,
	}
	if ex.TriggerData != nil {
		raw, err := json.Marshal(ex.TriggerData)
		if err != nil {
			return fmt.Errorf("encode execution %s trigger data: %w", ex.ID, err)
		}
		m.TriggerData = raw
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("create execution %s: %w", ex.ID, err)
	}
	return nil
}

// FinishExecution implements execution.Store.
func (s *Store) FinishExecution(ctx context.Context, ex *execution.Execution) error {
	updates := map[string]any{
		"status":      string(ex.Status),
		"finished_at": ex.FinishedAt,
	}
	if ex.Error != nil {
		raw, err := json.Marshal(ex.Error)
		if err != nil {
			return fmt.Errorf("encode execution error: %w", err)
		}
		updates["error"] = raw
	}
	err := s.db.WithContext(ctx).
		Model(&executionModel{}).Where("id = ?", ex.ID).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("finish execution %s: %w", ex.ID, err)
	}
	return nil
}

// LoadExecution implements execution.Store.
func (s *Store) LoadExecution(ctx context.Context, id string) (*execution.Execution, error) {
	var m executionModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, execution.ErrNotFound
		}
		return nil, fmt.Errorf("load execution %s: %w", id, err)
	}
	ex := &execution.Execution{
		ID:               m.ID,
		WorkflowID:       m.WorkflowID,
		Status:           execution.Status(m.Status),
		Mode:             m.Mode,
		StartNodeID:      m.StartNodeID,
		WorkflowSnapshot: m.WorkflowSnapshot,
		StartedAt:        m.StartedAt,
		FinishedAt:       m.FinishedAt,
	}
	if len(m.TriggerData) > 0 {
		if err := json.Unmarshal(m.TriggerData, &ex.TriggerData); err != nil {
			return nil, fmt.Errorf("decode execution %s trigger data: %w", id, err)
		}
	}
	if len(m.Error) > 0 {
		var ee execution.ExecutionError
		if err := json.Unmarshal(m.Error, &ee); err != nil {
			return nil, fmt.Errorf("decode execution %s error: %w", id, err)
		}
		ex.Error = &ee
	}
	return ex, nil
}

// SaveNodeExecution implements execution.Store. The deterministic row id
// makes re-saves idempotent upserts.
func (s *Store) SaveNodeExecution(ctx context.Context, ne *execution.NodeExecution) error {
	m := nodeExecutionModel{
		ID:          ne.ID,
		ExecutionID: ne.ExecutionID,
		NodeID:      ne.NodeID,
		NodeType:    ne.NodeType,
		Status:      string(ne.Status),
		StartedAt:   ne.StartedAt,
		FinishedAt:  ne.FinishedAt,
	}
	var err error
	if m.InputData, err = marshalOrNil(ne.InputData); err != nil {
		return fmt.Errorf("encode node execution %s input: %w", ne.ID, err)
	}
	if m.OutputData, err = marshalOrNil(ne.OutputData); err != nil {
		return fmt.Errorf("encode node execution %s output: %w", ne.ID, err)
	}
	if ne.Error != nil {
		if m.Error, err = json.Marshal(ne.Error); err != nil {
			return fmt.Errorf("encode node execution %s error: %w", ne.ID, err)
		}
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("save node execution %s: %w", ne.ID, err)
	}
	return nil
}

// LoadNodeExecutions implements execution.Store.
func (s *Store) LoadNodeExecutions(ctx context.Context, executionID string) ([]execution.NodeExecution, error) {
	var models []nodeExecutionModel
	err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).Order("started_at").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("load node executions of %s: %w", executionID, err)
	}
	out := make([]execution.NodeExecution, 0, len(models))
	for _, m := range models {
		ne := execution.NodeExecution{
			ID:          m.ID,
			ExecutionID: m.ExecutionID,
			NodeID:      m.NodeID,
			NodeType:    m.NodeType,
			Status:      execution.Status(m.Status),
			StartedAt:   m.StartedAt,
			FinishedAt:  m.FinishedAt,
		}
		if err := unmarshalInto(m.InputData, &ne.InputData); err != nil {
			return nil, fmt.Errorf("decode node execution %s input: %w", m.ID, err)
		}
		if err := unmarshalInto(m.OutputData, &ne.OutputData); err != nil {
			return nil, fmt.Errorf("decode node execution %s output: %w", m.ID, err)
		}
		if len(m.Error) > 0 {
			var ee execution.ExecutionError
			if err := json.Unmarshal(m.Error, &ee); err != nil {
				return nil, fmt.Errorf("decode node execution %s error: %w", m.ID, err)
			}
			ne.Error = &ee
		}
		out = append(out, ne)
	}
	return out, nil
}

// SaveTrigger implements trigger.RecordStore with create-or-replace
// semantics.
func (s *Store) SaveTrigger(ctx context.Context, rec *trigger.Record) error {
	m := triggerModel{
		ID:         rec.ID,
		WorkflowID: rec.WorkflowID,
		NodeID:     rec.NodeID,
		Type:       rec.Type,
		Active:     rec.Active,
	}
	var err error
	if m.Settings, err = marshalOrNil(rec.Settings); err != nil {
		return fmt.Errorf("encode trigger %s settings: %w", rec.ID, err)
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("save trigger %s: %w", rec.ID, err)
	}
	return nil
}

// DeactivateTriggers implements trigger.RecordStore.
func (s *Store) DeactivateTriggers(ctx context.Context, workflowID string) error {
	err := s.db.WithContext(ctx).
		Model(&triggerModel{}).Where("workflow_id = ?", workflowID).
		Update("active", false).Error
	if err != nil {
		return fmt.Errorf("deactivate triggers of %s: %w", workflowID, err)
	}
	return nil
}

// LoadActiveTriggers implements trigger.RecordStore.
func (s *Store) LoadActiveTriggers(ctx context.Context) ([]trigger.Record, error) {
	var models []triggerModel
	err := s.db.WithContext(ctx).
		Where("active = ?", true).Order("id").Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("load active triggers: %w", err)
	}
	out := make([]trigger.Record, 0, len(models))
	for _, m := range models {
		rec := trigger.Record{
			ID:         m.ID,
			WorkflowID: m.WorkflowID,
			NodeID:     m.NodeID,
			Type:       m.Type,
			Active:     m.Active,
		}
		if err := unmarshalInto(m.Settings, &rec.Settings); err != nil {
			return nil, fmt.Errorf("decode trigger %s settings: %w", m.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// LoadCredential implements credential.Store.
func (s *Store) LoadCredential(ctx context.Context, id string) (*credential.Record, error) {
	var m credentialModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, credential.ErrNotFound
		}
		return nil, fmt.Errorf("load credential %s: %w", id, err)
	}
	return &credential.Record{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		Type:          m.Type,
		Name:          m.Name,
		EncryptedData: m.EncryptedData,
		ExpiresAt:     m.ExpiresAt,
	}, nil
}

// SaveCredential stores an encrypted credential record with create-or-replace
// semantics. Callers invalidate the resolver cache after editing.
func (s *Store) SaveCredential(ctx context.Context, rec *credential.Record) error {
	m := credentialModel{
		ID:            rec.ID,
		OwnerID:       rec.OwnerID,
		Type:          rec.Type,
		Name:          rec.Name,
		EncryptedData: rec.EncryptedData,
		ExpiresAt:     rec.ExpiresAt,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("save credential %s: %w", rec.ID, err)
	}
	return nil
}

func marshalOrNil(v map[string]any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalInto(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
