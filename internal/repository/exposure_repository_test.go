package repository

import (
	"context"
	"testing"
	"time"

	"exposure-tracer/internal/domain"
)

func TestExposureRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewExposureRepository(setupTestDB(t))

	var rpi domain.RPI
	for i := range rpi {
		rpi[i] = byte(i)
	}
	exposure := &domain.Exposure{
		RPI:                rpi,
		ENIntervalNumber:   2_700_000,
		ScanIntervalNumber: 5_400_001,
		Metadata:           domain.NewMetadata(1, 0, -4),
		DetectedAt:         time.Now().UTC(),
	}

	exists, err := repo.ExistsByRPI(ctx, rpi)
	if err != nil {
		t.Fatalf("ExistsByRPI failed: %v", err)
	}
	if exists {
		t.Error("expected exists=false before create")
	}

	if err := repo.Create(ctx, exposure); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if exposure.ID == "" {
		t.Error("expected ID to be generated, got empty")
	}

	exists, err = repo.ExistsByRPI(ctx, rpi)
	if err != nil {
		t.Fatalf("ExistsByRPI failed: %v", err)
	}
	if !exists {
		t.Error("expected exists=true after create")
	}

	// 同じRPIは一意制約で拒否される
	dup := *exposure
	dup.ID = ""
	if err := repo.Create(ctx, &dup); err == nil {
		t.Error("expected unique constraint violation")
	}

	all, err := repo.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 exposure, got %d", len(all))
	}
	got := all[0]
	if got.RPI != rpi || got.Metadata != exposure.Metadata {
		t.Errorf("unexpected exposure: %+v", got)
	}
	if got.ENIntervalNumber != 2_700_000 || got.ScanIntervalNumber != 5_400_001 {
		t.Errorf("unexpected interval numbers: %d/%d", got.ENIntervalNumber, got.ScanIntervalNumber)
	}
	if got.Metadata.TxPower() != -4 {
		t.Errorf("want tx power -4, got %d", got.Metadata.TxPower())
	}
}
