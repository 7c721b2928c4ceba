package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"exposure-tracer/internal/domain"
	"exposure-tracer/internal/tracer"
)

// defaultMatchBatchSize は一度に照合する診断キーの件数。
const defaultMatchBatchSize = 512

// ScanReader は保存済みスキャン結果の読み出しのインターフェース。
type ScanReader interface {
	ListScans(ctx context.Context) ([]uint32, error)
	LoadScan(ctx context.Context, scanin uint32) ([]domain.DataPair, error)
}

// KeyFeed はキーサーバーとの診断キーの送受信のインターフェース。
type KeyFeed interface {
	// FetchKeys はエポックがoldest以上の診断キーを1件ずつfnに渡す。
	FetchKeys(ctx context.Context, oldest uint32, fn func(domain.TEK) error) error
	UploadKeys(ctx context.Context, caseID string, keys []domain.TEK) error
}

// ExposureRepository は接触記録の永続化のインターフェース。
type ExposureRepository interface {
	ExistsByRPI(ctx context.Context, rpi domain.RPI) (bool, error)
	Create(ctx context.Context, exposure *domain.Exposure) error
	FindAll(ctx context.Context) ([]*domain.Exposure, error)
}

// ExposureConfig は接触確認の設定。
type ExposureConfig struct {
	Schedule      tracer.Schedule
	Capacity      int
	ScanRetention time.Duration
	BatchSize     int
}

// CheckResult は接触確認の結果。
type CheckResult struct {
	KeysChecked  int
	PairsChecked int
	NewExposures []*domain.Exposure
}

// ExposureService は端末側の接触確認と陽性登録のビジネスロジックを提供する。
type ExposureService struct {
	cfg       ExposureConfig
	scans     ScanReader
	snapshots SnapshotStore
	sealer    Sealer
	feed      KeyFeed
	repo      ExposureRepository
	clock     Clock
}

// NewExposureService は新しいExposureServiceを生成する。
func NewExposureService(cfg ExposureConfig, scans ScanReader, snapshots SnapshotStore, sealer Sealer, feed KeyFeed, repo ExposureRepository, clock Clock) *ExposureService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultMatchBatchSize
	}
	return &ExposureService{
		cfg:       cfg,
		scans:     scans,
		snapshots: snapshots,
		sealer:    sealer,
		feed:      feed,
		repo:      repo,
		clock:     clock,
	}
}

type scanRecord struct {
	scanin uint32
	pairs  []domain.DataPair
}

// CheckExposures はキーサーバーから保持期間内の診断キーを取得し、保存済みのすべてのスキャンと総当たりで照合する。
// 既に記録済みのRPIは新たに記録しない。
func (s *ExposureService) CheckExposures(ctx context.Context) (*CheckResult, error) {
	ctx, span := otelTracer.Start(ctx, "exposure.check")
	defer span.End()

	scans, err := s.loadScans(ctx)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{}
	for _, sc := range scans {
		result.PairsChecked += len(sc.pairs)
	}

	// 保持期間の直前に生成されたTEKも保持中のスキャンにRPIを残しているため、1TEK期間ぶん遡る
	var oldest uint32
	now := tracer.Epoch(s.clock.Now())
	horizon := uint32((s.cfg.ScanRetention + s.cfg.Schedule.TEKInterval()) / time.Second)
	if now > horizon {
		oldest = now - horizon
	}

	batch := make([]domain.TEK, 0, s.cfg.BatchSize)
	flush := func() error {
		for _, sc := range scans {
			for _, m := range tracer.MatchAll(sc.pairs, batch) {
				exposure, err := s.record(ctx, sc.scanin, m)
				if err != nil {
					return err
				}
				if exposure != nil {
					result.NewExposures = append(result.NewExposures, exposure)
				}
			}
		}
		batch = batch[:0]
		return nil
	}

	err = s.feed.FetchKeys(ctx, oldest, func(tek domain.TEK) error {
		result.KeysChecked++
		batch = append(batch, tek)
		if len(batch) < s.cfg.BatchSize {
			return nil
		}
		return flush()
	})
	if err != nil {
		return nil, fmt.Errorf("fetching diagnosis keys: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("keys", result.KeysChecked),
		attribute.Int("pairs", result.PairsChecked),
		attribute.Int("exposures", len(result.NewExposures)),
	)
	slog.InfoContext(ctx, "exposure check completed",
		"keys", result.KeysChecked,
		"pairs", result.PairsChecked,
		"new_exposures", len(result.NewExposures),
	)
	return result, nil
}

func (s *ExposureService) loadScans(ctx context.Context) ([]scanRecord, error) {
	scanins, err := s.scans.ListScans(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	scans := make([]scanRecord, 0, len(scanins))
	for _, scanin := range scanins {
		pairs, err := s.scans.LoadScan(ctx, scanin)
		if err != nil {
			return nil, fmt.Errorf("loading scan %d: %w", scanin, err)
		}
		scans = append(scans, scanRecord{scanin: scanin, pairs: pairs})
	}
	return scans, nil
}

func (s *ExposureService) record(ctx context.Context, scanin uint32, m tracer.Match) (*domain.Exposure, error) {
	exists, err := s.repo.ExistsByRPI(ctx, m.Pair.RPI)
	if err != nil {
		return nil, fmt.Errorf("checking exposure: %w", err)
	}
	if exists {
		return nil, nil
	}

	exposure := &domain.Exposure{
		RPI:                m.Pair.RPI,
		ENIntervalNumber:   m.ENIntervalNumber,
		ScanIntervalNumber: scanin,
		Metadata:           m.Metadata,
		DetectedAt:         s.clock.Now().UTC(),
	}
	if err := s.repo.Create(ctx, exposure); err != nil {
		return nil, fmt.Errorf("creating exposure: %w", err)
	}
	return exposure, nil
}

// ListExposures は記録済みの接触を取得する。
func (s *ExposureService) ListExposures(ctx context.Context) ([]*domain.Exposure, error) {
	exposures, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding exposures: %w", err)
	}
	return exposures, nil
}

// ReportDiagnosis は保存済みスナップショットのTEKをケースIDとともにアップロードする。
// 空スロットも含めて容量分のレコードを送る。
func (s *ExposureService) ReportDiagnosis(ctx context.Context, caseID string) (int, error) {
	ctx, span := otelTracer.Start(ctx, "exposure.report")
	defer span.End()

	if len(caseID) != domain.CaseIDLength {
		return 0, domain.ErrInvalidCaseID
	}

	blob, err := s.snapshots.LoadTEKSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading tek snapshot: %w", err)
	}
	if s.sealer != nil {
		if blob, err = s.sealer.Decrypt(ctx, blob); err != nil {
			return 0, fmt.Errorf("unsealing tek snapshot: %w", err)
		}
	}

	ring := tracer.NewTEKRing(s.cfg.Capacity, nil)
	if err := ring.UnmarshalBinary(blob); err != nil {
		return 0, fmt.Errorf("decoding tek snapshot: %w", err)
	}
	teks := ring.TEKs()
	if len(teks) == 0 {
		return 0, domain.ErrNoTEK
	}

	keys := make([]domain.TEK, ring.Capacity())
	copy(keys, teks)
	if err := s.feed.UploadKeys(ctx, caseID, keys); err != nil {
		return 0, fmt.Errorf("uploading keys: %w", err)
	}
	slog.InfoContext(ctx, "diagnosis keys reported", "keys", len(teks))
	return len(teks), nil
}
