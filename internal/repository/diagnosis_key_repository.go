// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"exposure-tracer/internal/domain"
)

// createBatchSize は診断キーを一括登録する際の1文あたりの件数。
const createBatchSize = 100

// DiagnosisKeyModel はgorm用のモデル定義。
type DiagnosisKeyModel struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Epoch     uint32    `gorm:"not null;index:idx_diagnosis_keys_epoch"`
	KeyData   []byte    `gorm:"column:key_data;type:blob;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (DiagnosisKeyModel) TableName() string {
	return "diagnosis_keys"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *DiagnosisKeyModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *DiagnosisKeyModel) toDomain() domain.TEK {
	tek := domain.TEK{Epoch: m.Epoch}
	copy(tek.Value[:], m.KeyData)
	return tek
}

// DiagnosisKeyRepository は診断キーのデータアクセスを提供する。
type DiagnosisKeyRepository struct {
	db *gorm.DB
}

// NewDiagnosisKeyRepository は新しいDiagnosisKeyRepositoryを生成する。
func NewDiagnosisKeyRepository(db *gorm.DB) *DiagnosisKeyRepository {
	return &DiagnosisKeyRepository{db: db}
}

// CreateForCase はケースIDを削除して診断キーを保存する。両方の操作は同じトランザクションで行う。
func (r *DiagnosisKeyRepository) CreateForCase(ctx context.Context, caseID string, keys []domain.TEK) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", caseID).Delete(&CaseIDModel{})
		if res.Error != nil {
			slog.ErrorContext(ctx, "failed to burn case id",
				"operation", "create_for_case",
				"error", res.Error,
			)
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrCaseIDNotFound
		}
		if len(keys) == 0 {
			return nil
		}

		now := time.Now().UTC()
		models := make([]DiagnosisKeyModel, len(keys))
		for i, k := range keys {
			models[i] = DiagnosisKeyModel{
				Epoch:     k.Epoch,
				KeyData:   append([]byte(nil), k.Value[:]...),
				CreatedAt: now,
			}
		}
		if err := tx.CreateInBatches(&models, createBatchSize).Error; err != nil {
			slog.ErrorContext(ctx, "failed to create diagnosis keys",
				"operation", "create_for_case",
				"count", len(keys),
				"error", err,
			)
			return err
		}
		return nil
	})
}

// FindSince はエポックがoldest以上の診断キーをエポック順に取得する。
func (r *DiagnosisKeyRepository) FindSince(ctx context.Context, oldest uint32) ([]domain.TEK, error) {
	var models []DiagnosisKeyModel
	err := r.db.WithContext(ctx).
		Where("epoch >= ?", oldest).
		Order("epoch ASC").
		Find(&models).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to find diagnosis keys",
			"operation", "find_since",
			"oldest", oldest,
			"error", err,
		)
		return nil, err
	}

	keys := make([]domain.TEK, len(models))
	for i := range models {
		keys[i] = models[i].toDomain()
	}
	return keys, nil
}
