package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/webpilot-ai/webpilot/types"
)

// Job statuses.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Job is a persisted unit of submitted work. Payload holds the submitted
// task or objective; Result holds the outcome once the job is terminal.
type Job struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"index" json:"kind"` // task or agent
	Name      string    `json:"name"`
	Status    string    `gorm:"index" json:"status"`
	Payload   string    `json:"payload,omitempty"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the job has finished.
func (j *Job) Terminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// Store persists jobs in SQLite so submitted work survives restarts and
// clients can poll results after the fact.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (and migrates) the job database. An empty path uses an
// in-memory database.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open job store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, fmt.Errorf("migrate job store: %w", err)
	}
	return &Store{db: db}, nil
}

// Create inserts a queued job.
func (s *Store) Create(job *Job) error {
	if job.Status == "" {
		job.Status = JobQueued
	}
	return s.db.Create(job).Error
}

// MarkRunning transitions a job to running.
func (s *Store) MarkRunning(id string) error {
	return s.db.Model(&Job{}).Where("id = ?", id).Update("status", JobRunning).Error
}

// Complete records a terminal result. result is serialized into the job.
func (s *Store) Complete(id string, success bool, result any, errMsg string) error {
	status := JobSucceeded
	if !success {
		status = JobFailed
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("serialize job result: %w", err)
	}
	return s.db.Model(&Job{}).Where("id = ?", id).Updates(map[string]any{
		"status": status,
		"result": string(payload),
		"error":  errMsg,
	}).Error
}

// Get fetches one job.
func (s *Store) Get(id string) (*Job, error) {
	var job Job
	err := s.db.First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.Errorf(types.ErrValidation, "no job %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns the most recent jobs, newest first.
func (s *Store) List(limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []Job
	err := s.db.Order("created_at DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}
