package repository

import (
	"context"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"exposure-tracer/internal/domain"
)

// ExposureModel はgorm用のモデル定義。RPIとメタデータは16進文字列で保存する。
type ExposureModel struct {
	ID                 string    `gorm:"type:char(36);primaryKey"`
	RPI                string    `gorm:"column:rpi;type:char(32);not null;uniqueIndex:uk_exposures_rpi"`
	ENIntervalNumber   uint32    `gorm:"column:en_interval_number;not null"`
	ScanIntervalNumber uint32    `gorm:"column:scan_interval_number;not null"`
	Metadata           string    `gorm:"type:char(8);not null"`
	DetectedAt         time.Time `gorm:"not null"`
}

// TableName はテーブル名を返す。
func (ExposureModel) TableName() string {
	return "exposures"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (m *ExposureModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

func (m *ExposureModel) toDomain() *domain.Exposure {
	e := &domain.Exposure{
		ID:                 m.ID,
		ENIntervalNumber:   m.ENIntervalNumber,
		ScanIntervalNumber: m.ScanIntervalNumber,
		DetectedAt:         m.DetectedAt,
	}
	// 保存時に16進へ変換しているため長さは一致する
	_, _ = hex.Decode(e.RPI[:], []byte(m.RPI))
	_, _ = hex.Decode(e.Metadata[:], []byte(m.Metadata))
	return e
}

// ExposureRepository は接触記録のデータアクセスを提供する。
type ExposureRepository struct {
	db *gorm.DB
}

// NewExposureRepository は新しいExposureRepositoryを生成する。
func NewExposureRepository(db *gorm.DB) *ExposureRepository {
	return &ExposureRepository{db: db}
}

// ExistsByRPI はRPIが記録済みか確認する。
func (r *ExposureRepository) ExistsByRPI(ctx context.Context, rpi domain.RPI) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ExposureModel{}).
		Where("rpi = ?", rpi.String()).
		Count(&count).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to count exposures by rpi",
			"operation", "exists_by_rpi",
			"error", err,
		)
		return false, err
	}
	return count > 0, nil
}

// Create は新しい接触記録を保存する。
func (r *ExposureRepository) Create(ctx context.Context, exposure *domain.Exposure) error {
	model := &ExposureModel{
		ID:                 exposure.ID,
		RPI:                exposure.RPI.String(),
		ENIntervalNumber:   exposure.ENIntervalNumber,
		ScanIntervalNumber: exposure.ScanIntervalNumber,
		Metadata:           hex.EncodeToString(exposure.Metadata[:]),
		DetectedAt:         exposure.DetectedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create exposure",
			"operation", "create",
			"enin", exposure.ENIntervalNumber,
			"error", err,
		)
		return err
	}
	exposure.ID = model.ID
	return nil
}

// FindAll はすべての接触記録を検出順に取得する。
func (r *ExposureRepository) FindAll(ctx context.Context) ([]*domain.Exposure, error) {
	var models []ExposureModel
	if err := r.db.WithContext(ctx).Order("detected_at ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find exposures",
			"operation", "find_all",
			"error", err,
		)
		return nil, err
	}

	exposures := make([]*domain.Exposure, len(models))
	for i := range models {
		exposures[i] = models[i].toDomain()
	}
	return exposures, nil
}
