package usecase

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"exposure-tracer/internal/domain"
)

// MaxCaseIDsPerRequest は一度に発行できるケースIDの上限。
const MaxCaseIDsPerRequest = 100

// caseIDAttempts はケースIDが衝突した場合の再生成回数の上限。
const caseIDAttempts = 5

// CaseIDRepository はケースIDのデータアクセスのインターフェース。
type CaseIDRepository interface {
	Create(ctx context.Context, caseID *domain.CaseID) error
	FindByCode(ctx context.Context, code string) (*domain.CaseID, error)
	FindCreatedSince(ctx context.Context, since time.Time) ([]*domain.CaseID, error)
	Delete(ctx context.Context, id string) error
	DeleteCreatedBefore(ctx context.Context, before time.Time) (int64, error)
}

// DiagnosisKeyRepository は診断キーのデータアクセスのインターフェース。
type DiagnosisKeyRepository interface {
	// CreateForCase はケースIDを削除して診断キーを保存する。ケースIDが既に削除されていればdomain.ErrCaseIDNotFoundを返す。
	CreateForCase(ctx context.Context, caseID string, keys []domain.TEK) error
	FindSince(ctx context.Context, oldest uint32) ([]domain.TEK, error)
}

// DiagnosisService はキーサーバーのビジネスロジックを提供する。
type DiagnosisService struct {
	caseIDs       CaseIDRepository
	keys          DiagnosisKeyRepository
	clock         Clock
	caseIDTTL     time.Duration
	teksPerUpload int
}

// NewDiagnosisService は新しいDiagnosisServiceを生成する。
func NewDiagnosisService(caseIDs CaseIDRepository, keys DiagnosisKeyRepository, clock Clock, caseIDTTL time.Duration, teksPerUpload int) *DiagnosisService {
	return &DiagnosisService{
		caseIDs:       caseIDs,
		keys:          keys,
		clock:         clock,
		caseIDTTL:     caseIDTTL,
		teksPerUpload: teksPerUpload,
	}
}

// TEKsPerUpload は1回のアップロードに含まれるTEKレコード数を返す。
func (s *DiagnosisService) TEKsPerUpload() int {
	return s.teksPerUpload
}

// CaseIDTTL はケースIDの有効期間を返す。
func (s *DiagnosisService) CaseIDTTL() time.Duration {
	return s.caseIDTTL
}

// generateCaseCode は4バイトの乱数をbase32で表した先頭7文字を返す。
func generateCaseCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random case id: %w", err)
	}
	return base32.StdEncoding.EncodeToString(b)[:domain.CaseIDLength], nil
}

// NormalizeCaseCode はケースIDを大文字に揃える。形式が不正な場合はdomain.ErrInvalidCaseIDを返す。
func NormalizeCaseCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != domain.CaseIDLength {
		return "", domain.ErrInvalidCaseID
	}
	for _, c := range code {
		if !(c >= 'A' && c <= 'Z' || c >= '2' && c <= '7') {
			return "", domain.ErrInvalidCaseID
		}
	}
	return code, nil
}

// GenerateCaseIDs はn件のケースIDを発行する。
func (s *DiagnosisService) GenerateCaseIDs(ctx context.Context, n int) ([]*domain.CaseID, error) {
	if n < 1 || n > MaxCaseIDsPerRequest {
		return nil, domain.ErrInvalidCount
	}
	s.purgeExpired(ctx)

	caseIDs := make([]*domain.CaseID, 0, n)
	for len(caseIDs) < n {
		caseID, err := s.generateCaseID(ctx)
		if err != nil {
			return caseIDs, err
		}
		caseIDs = append(caseIDs, caseID)
	}
	return caseIDs, nil
}

func (s *DiagnosisService) generateCaseID(ctx context.Context) (*domain.CaseID, error) {
	for i := 0; i < caseIDAttempts; i++ {
		code, err := generateCaseCode()
		if err != nil {
			return nil, err
		}
		existing, err := s.caseIDs.FindByCode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("finding case id: %w", err)
		}
		if existing != nil {
			continue
		}

		caseID := &domain.CaseID{
			Code:      code,
			CreatedAt: s.clock.Now().UTC(),
		}
		if err := s.caseIDs.Create(ctx, caseID); err != nil {
			return nil, fmt.Errorf("creating case id: %w", err)
		}
		return caseID, nil
	}
	return nil, fmt.Errorf("generating case id: %d collisions", caseIDAttempts)
}

// ListCaseIDs は有効期限内のケースIDを取得する。
func (s *DiagnosisService) ListCaseIDs(ctx context.Context) ([]*domain.CaseID, error) {
	s.purgeExpired(ctx)

	caseIDs, err := s.caseIDs.FindCreatedSince(ctx, s.clock.Now().UTC().Add(-s.caseIDTTL))
	if err != nil {
		return nil, fmt.Errorf("finding case ids: %w", err)
	}
	return caseIDs, nil
}

// GetCaseID はケースIDを取得する。存在しなければdomain.ErrCaseIDNotFound、期限切れならdomain.ErrCaseIDExpiredを返す。
func (s *DiagnosisService) GetCaseID(ctx context.Context, code string) (*domain.CaseID, error) {
	code, err := NormalizeCaseCode(code)
	if err != nil {
		return nil, err
	}
	caseID, err := s.caseIDs.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("finding case id: %w", err)
	}
	if caseID == nil {
		return nil, domain.ErrCaseIDNotFound
	}
	if !s.clock.Now().Before(caseID.ExpiresAt(s.caseIDTTL)) {
		return nil, domain.ErrCaseIDExpired
	}
	return caseID, nil
}

// purgeExpired は有効期限切れのケースIDを削除する。失敗してもログのみ出力する。
func (s *DiagnosisService) purgeExpired(ctx context.Context) {
	n, err := s.caseIDs.DeleteCreatedBefore(ctx, s.clock.Now().UTC().Add(-s.caseIDTTL))
	if err != nil {
		slog.WarnContext(ctx, "failed to purge expired case ids", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "expired case ids purged", "count", n)
	}
}

// SubmitKeys はケースIDを検証して診断キーを保存し、保存した件数を返す。
// ケースIDは成功時に消費される。エポックが0のレコードは空スロットとして読み飛ばす。
func (s *DiagnosisService) SubmitKeys(ctx context.Context, code string, keys []domain.TEK) (int, error) {
	code, err := NormalizeCaseCode(code)
	if err != nil {
		return 0, err
	}
	if len(keys) != s.teksPerUpload {
		return 0, fmt.Errorf("%w: got %d, want %d", domain.ErrInvalidKeyCount, len(keys), s.teksPerUpload)
	}

	caseID, err := s.caseIDs.FindByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("finding case id: %w", err)
	}
	if caseID == nil {
		return 0, domain.ErrCaseIDNotFound
	}
	if !s.clock.Now().Before(caseID.ExpiresAt(s.caseIDTTL)) {
		if err := s.caseIDs.Delete(ctx, caseID.ID); err != nil {
			slog.WarnContext(ctx, "failed to delete expired case id", "error", err)
		}
		return 0, domain.ErrCaseIDExpired
	}

	accepted := make([]domain.TEK, 0, len(keys))
	for _, k := range keys {
		if k.Epoch == 0 {
			continue
		}
		accepted = append(accepted, k)
	}

	if err := s.keys.CreateForCase(ctx, caseID.ID, accepted); err != nil {
		return 0, fmt.Errorf("storing diagnosis keys: %w", err)
	}
	return len(accepted), nil
}

// ListDiagnosisKeys はエポックがoldest以上の診断キーを取得する。
func (s *DiagnosisService) ListDiagnosisKeys(ctx context.Context, oldest uint32) ([]domain.TEK, error) {
	keys, err := s.keys.FindSince(ctx, oldest)
	if err != nil {
		return nil, fmt.Errorf("finding diagnosis keys: %w", err)
	}
	return keys, nil
}
