package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"exposure-tracer/internal/domain"
	"exposure-tracer/internal/tracer"
)

func newTEK(t *testing.T, epoch uint32) domain.TEK {
	t.Helper()
	ring := tracer.NewTEKRing(1, nil)
	tek, err := ring.Rotate(epoch)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	return tek
}

func newExposureFixture(store *memStore, feed *mockKeyFeed, repo *mockExposureRepository) *ExposureService {
	cfg := ExposureConfig{
		Schedule:      tracer.DefaultSchedule(),
		Capacity:      4,
		ScanRetention: 14 * 24 * time.Hour,
		BatchSize:     2,
	}
	clock := &fakeClock{now: time.Unix(startEpoch, 0)}
	return NewExposureService(cfg, store, store, nil, feed, repo, clock)
}

func TestExposureService_CheckExposures(t *testing.T) {
	ctx := context.Background()
	schedule := tracer.DefaultSchedule()
	md := tracer.DeriveMetadata(-6)

	infected := newTEK(t, startEpoch-3600)
	healthy := newTEK(t, startEpoch-3600)
	infectedKP, healthyKP := tracer.DeriveKeyPair(infected), tracer.DeriveKeyPair(healthy)

	store := newMemStore()
	enin := schedule.ENIntervalNumber(startEpoch - 1800)
	store.scans[100] = []domain.DataPair{
		tracer.DeriveDataPair(healthyKP, enin, md),
		tracer.DeriveDataPair(infectedKP, enin, md),
	}
	store.scans[101] = []domain.DataPair{
		tracer.DeriveDataPair(infectedKP, enin+1, md),
	}

	feed := &mockKeyFeed{keys: []domain.TEK{
		newTEK(t, startEpoch-7200),
		newTEK(t, startEpoch-7200),
		infected,
		newTEK(t, startEpoch-7200),
		// 保持期間外のキーは取得されない
		newTEK(t, 1000),
	}}
	repo := &mockExposureRepository{}
	service := newExposureFixture(store, feed, repo)

	result, err := service.CheckExposures(ctx)
	if err != nil {
		t.Fatalf("CheckExposures failed: %v", err)
	}
	if result.KeysChecked != 4 {
		t.Errorf("want 4 keys checked, got %d", result.KeysChecked)
	}
	if result.PairsChecked != 3 {
		t.Errorf("want 3 pairs checked, got %d", result.PairsChecked)
	}
	if len(result.NewExposures) != 2 {
		t.Fatalf("want 2 exposures, got %d", len(result.NewExposures))
	}
	byScan := map[uint32]*domain.Exposure{}
	for _, e := range result.NewExposures {
		byScan[e.ScanIntervalNumber] = e
	}
	if e := byScan[100]; e == nil || e.ENIntervalNumber != enin || e.Metadata != md {
		t.Errorf("unexpected exposure for scan 100: %+v", e)
	}
	if e := byScan[101]; e == nil || e.ENIntervalNumber != enin+1 {
		t.Errorf("unexpected exposure for scan 101: %+v", e)
	}
	if want := uint32(startEpoch - 15*24*60*60); feed.oldest[0] != want {
		t.Errorf("want oldest %d, got %d", want, feed.oldest[0])
	}

	// 2回目は記録済みのため新規なし
	again, err := service.CheckExposures(ctx)
	if err != nil {
		t.Fatalf("CheckExposures failed: %v", err)
	}
	if len(again.NewExposures) != 0 || len(repo.exposures) != 2 {
		t.Errorf("expected no new exposures, got %d (total %d)", len(again.NewExposures), len(repo.exposures))
	}

	listed, err := service.ListExposures(ctx)
	if err != nil {
		t.Fatalf("ListExposures failed: %v", err)
	}
	if len(listed) != 2 {
		t.Errorf("want 2 listed exposures, got %d", len(listed))
	}
}

func TestExposureService_CheckExposuresKeyBeforeRetention(t *testing.T) {
	ctx := context.Background()
	schedule := tracer.DefaultSchedule()
	retention := uint32(14 * 24 * 60 * 60)

	// 保持期間の1時間前に生成され、保持期間内にもRPIを送信していたTEK
	early := newTEK(t, startEpoch-retention-3600)
	enin := schedule.ENIntervalNumber(startEpoch - retention + 1800)
	store := newMemStore()
	store.scans[schedule.ScanIntervalNumber(startEpoch-retention+1800)] = []domain.DataPair{
		tracer.DeriveDataPair(tracer.DeriveKeyPair(early), enin, tracer.DeriveMetadata(0)),
	}

	feed := &mockKeyFeed{keys: []domain.TEK{early}}
	service := newExposureFixture(store, feed, &mockExposureRepository{})

	result, err := service.CheckExposures(ctx)
	if err != nil {
		t.Fatalf("CheckExposures failed: %v", err)
	}
	if result.KeysChecked != 1 || len(result.NewExposures) != 1 {
		t.Fatalf("want 1 key and 1 exposure, got %d keys and %d exposures", result.KeysChecked, len(result.NewExposures))
	}
	if result.NewExposures[0].ENIntervalNumber != enin {
		t.Errorf("want enin %d, got %d", enin, result.NewExposures[0].ENIntervalNumber)
	}
}

func TestExposureService_CheckExposuresErrors(t *testing.T) {
	ctx := context.Background()

	feed := &mockKeyFeed{fetchErr: errors.New("connection refused")}
	service := newExposureFixture(newMemStore(), feed, &mockExposureRepository{})
	if _, err := service.CheckExposures(ctx); err == nil {
		t.Error("expected fetch error")
	}

	infected := newTEK(t, startEpoch)
	store := newMemStore()
	store.scans[1] = []domain.DataPair{tracer.DeriveDataPair(tracer.DeriveKeyPair(infected), 5, tracer.DeriveMetadata(0))}
	repo := &mockExposureRepository{createErr: errors.New("disk full")}
	service = newExposureFixture(store, &mockKeyFeed{keys: []domain.TEK{infected}}, repo)
	if _, err := service.CheckExposures(ctx); err == nil {
		t.Error("expected create error")
	}
}

func TestExposureService_ReportDiagnosis(t *testing.T) {
	ctx := context.Background()

	ring := tracer.NewTEKRing(4, nil)
	first, _ := ring.Rotate(startEpoch - 86400)
	second, _ := ring.Rotate(startEpoch)
	store := newMemStore()
	store.snapshot, _ = ring.MarshalBinary()

	feed := &mockKeyFeed{}
	service := newExposureFixture(store, feed, &mockExposureRepository{})

	n, err := service.ReportDiagnosis(ctx, "ABCDEF2")
	if err != nil {
		t.Fatalf("ReportDiagnosis failed: %v", err)
	}
	if n != 2 {
		t.Errorf("want 2 reported keys, got %d", n)
	}
	if feed.caseID != "ABCDEF2" {
		t.Errorf("want case id ABCDEF2, got %s", feed.caseID)
	}
	if len(feed.uploaded) != 4 {
		t.Fatalf("want 4 uploaded slots, got %d", len(feed.uploaded))
	}
	if feed.uploaded[0] != first || feed.uploaded[1] != second || !feed.uploaded[2].IsZero() || !feed.uploaded[3].IsZero() {
		t.Errorf("unexpected upload: %v", feed.uploaded)
	}
}

func TestExposureService_ReportDiagnosisErrors(t *testing.T) {
	ctx := context.Background()

	service := newExposureFixture(newMemStore(), &mockKeyFeed{}, &mockExposureRepository{})
	if _, err := service.ReportDiagnosis(ctx, "SHORT"); !errors.Is(err, domain.ErrInvalidCaseID) {
		t.Errorf("want ErrInvalidCaseID, got %v", err)
	}
	if _, err := service.ReportDiagnosis(ctx, "ABCDEF2"); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Errorf("want ErrSnapshotNotFound, got %v", err)
	}

	store := newMemStore()
	store.snapshot = make([]byte, 4*tracer.TEKRecordSize)
	service = newExposureFixture(store, &mockKeyFeed{}, &mockExposureRepository{})
	if _, err := service.ReportDiagnosis(ctx, "ABCDEF2"); !errors.Is(err, domain.ErrNoTEK) {
		t.Errorf("want ErrNoTEK, got %v", err)
	}
}
