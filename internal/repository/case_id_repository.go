package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"exposure-tracer/internal/domain"
)

// CaseIDModel はgorm用のモデル定義。
type CaseIDModel struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Code      string    `gorm:"type:char(7);not null;uniqueIndex:uk_case_ids_code"`
	CreatedAt time.Time `gorm:"not null;index:idx_case_ids_created_at"`
}

// TableName はテーブル名を返す。
func (CaseIDModel) TableName() string {
	return "case_ids"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *CaseIDModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *CaseIDModel) toDomain() *domain.CaseID {
	return &domain.CaseID{
		ID:        m.ID,
		Code:      m.Code,
		CreatedAt: m.CreatedAt,
	}
}

// CaseIDRepository はケースIDのデータアクセスを提供する。
type CaseIDRepository struct {
	db *gorm.DB
}

// NewCaseIDRepository は新しいCaseIDRepositoryを生成する。
func NewCaseIDRepository(db *gorm.DB) *CaseIDRepository {
	return &CaseIDRepository{db: db}
}

// Create は新しいケースIDを保存する。
func (r *CaseIDRepository) Create(ctx context.Context, caseID *domain.CaseID) error {
	model := &CaseIDModel{
		ID:        caseID.ID,
		Code:      caseID.Code,
		CreatedAt: caseID.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create case id",
			"operation", "create",
			"error", err,
		)
		return err
	}
	caseID.ID = model.ID
	return nil
}

// FindByCode はコードに一致するケースIDを取得する。存在しない場合はnilを返す。
func (r *CaseIDRepository) FindByCode(ctx context.Context, code string) (*domain.CaseID, error) {
	var model CaseIDModel
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find case id",
			"operation", "find_by_code",
			"error", err,
		)
		return nil, err
	}
	return model.toDomain(), nil
}

// FindCreatedSince はsince以降に発行されたケースIDを発行順に取得する。
func (r *CaseIDRepository) FindCreatedSince(ctx context.Context, since time.Time) ([]*domain.CaseID, error) {
	var models []CaseIDModel
	err := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find case ids",
			"operation", "find_created_since",
			"error", err,
		)
		return nil, err
	}

	caseIDs := make([]*domain.CaseID, len(models))
	for i := range models {
		caseIDs[i] = models[i].toDomain()
	}
	return caseIDs, nil
}

// Delete は指定されたIDのケースIDを削除する。
func (r *CaseIDRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&CaseIDModel{}).Error; err != nil {
		slog.ErrorContext(ctx, "failed to delete case id",
			"operation", "delete",
			"id", id,
			"error", err,
		)
		return err
	}
	return nil
}

// DeleteCreatedBefore はbeforeより前に発行されたケースIDを削除し、削除件数を返す。
func (r *CaseIDRepository) DeleteCreatedBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&CaseIDModel{})
	if res.Error != nil {
		slog.ErrorContext(ctx, "failed to delete expired case ids",
			"operation", "delete_created_before",
			"error", res.Error,
		)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
