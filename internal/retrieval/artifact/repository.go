package artifact

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/errors"
)

// Record is the stored form of a RetrievalArtifact. The indexed columns
// duplicate artifact fields for listing without decoding.
type Record struct {
	RunID         string                   `gorm:"primaryKey;type:varchar(32)"`
	CaseID        string                   `gorm:"type:varchar(128);index;not null"`
	CaseType      string                   `gorm:"type:varchar(64)"`
	StopReason    string                   `gorm:"type:varchar(32)"`
	CoverageScore float64                  `gorm:"default:0"`
	Artifact      *model.RetrievalArtifact `gorm:"serializer:json"`
	CreatedAt     time.Time                `gorm:"autoCreateTime"`
}

// TableName specifies the table name for Record.
func (Record) TableName() string {
	return "retrieval_artifacts"
}

// Repository persists artifacts with gorm.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the artifacts table.
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Record{})
}

// Save stores an artifact, replacing any earlier one with the same run id.
func (r *Repository) Save(ctx context.Context, a *model.RetrievalArtifact) error {
	if a == nil || a.RunID == "" {
		return errors.ErrInvalidParam.WithMessage("artifact without run id")
	}
	rec := &Record{
		RunID:         a.RunID,
		CaseID:        a.CaseID,
		CaseType:      a.CaseType,
		StopReason:    string(a.StopReason),
		CoverageScore: a.Metrics.CoverageScore,
		Artifact:      a,
	}
	if err := r.db.WithContext(ctx).Save(rec).Error; err != nil {
		return errors.ErrDatabase.WithCause(fmt.Errorf("save artifact %s: %w", a.RunID, err))
	}
	return nil
}

// Get returns the artifact of a run.
func (r *Repository) Get(ctx context.Context, runID string) (*model.RetrievalArtifact, error) {
	var rec Record
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrArtifactNotFound.WithMessagef("artifact %s not found", runID)
	}
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}
	return rec.Artifact, nil
}

// ListByCase returns the artifacts of a case, newest first.
func (r *Repository) ListByCase(ctx context.Context, caseID string, limit int) ([]*model.RetrievalArtifact, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []Record
	err := r.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at DESC").
		Order("run_id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, errors.ErrDatabase.WithCause(err)
	}

	out := make([]*model.RetrievalArtifact, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Artifact)
	}
	return out, nil
}
