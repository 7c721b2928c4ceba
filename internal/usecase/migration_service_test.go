package usecase

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"exposure-tracer/internal/domain"
)

// mockMigrationRepository はテスト用のモック。適用履歴は事前設定分とDBの両方を参照する。
type mockMigrationRepository struct {
	db                *gorm.DB
	appliedMigrations map[string]*domain.Migration
	ensureErr         error
}

func newMockMigrationRepository(db *gorm.DB) *mockMigrationRepository {
	return &mockMigrationRepository{
		db:                db,
		appliedMigrations: make(map[string]*domain.Migration),
	}
}

func (m *mockMigrationRepository) EnsureTable(ctx context.Context) error {
	if m.ensureErr != nil {
		return m.ensureErr
	}
	return m.db.Exec("CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(14) PRIMARY KEY, applied_at DATETIME)").Error
}

func (m *mockMigrationRepository) FindAllApplied(ctx context.Context) ([]*domain.Migration, error) {
	var result []*domain.Migration
	for _, migration := range m.appliedMigrations {
		result = append(result, migration)
	}
	return result, nil
}

func (m *mockMigrationRepository) IsMigrationApplied(ctx context.Context, version string) (bool, error) {
	if _, exists := m.appliedMigrations[version]; exists {
		return true, nil
	}
	var count int64
	if err := m.db.Raw("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func testMigrationFiles() fstest.MapFS {
	return fstest.MapFS{
		"001_create_keys.sql":     {Data: []byte("CREATE TABLE keys (id INT);")},
		"002_create_cases.sql":    {Data: []byte("CREATE TABLE cases (id INT);\nCREATE INDEX idx_cases_id ON cases (id);")},
		"003_create_contacts.sql": {Data: []byte("CREATE TABLE contacts (id INT);")},
		"README.md":               {Data: []byte("not a migration")},
	}
}

// setupTestDB はテスト用のインメモリSQLiteデータベースを作成する。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db
}

func tableExists(t *testing.T, db *gorm.DB, name string) bool {
	t.Helper()
	var count int64
	if err := db.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count).Error; err != nil {
		t.Fatalf("failed to check table %s: %v", name, err)
	}
	return count == 1
}

func TestMigrationService_ApplyMigrations(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	service := NewMigrationService(newMockMigrationRepository(db), db, testMigrationFiles())

	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 migrations applied, got %d", count)
	}
	for _, table := range []string{"keys", "cases", "contacts"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s was not created", table)
		}
	}

	// 2回目は何も適用しない
	count, err = service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("second ApplyMigrations failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 migrations applied, got %d", count)
	}
}

func TestMigrationService_ApplyMigrations_AlreadyApplied(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := newMockMigrationRepository(db)

	now := time.Now()
	repo.appliedMigrations["001"] = &domain.Migration{Version: "001", AppliedAt: &now, Status: domain.MigrationStatusApplied}
	repo.appliedMigrations["002"] = &domain.Migration{Version: "002", AppliedAt: &now, Status: domain.MigrationStatusApplied}

	service := NewMigrationService(repo, db, testMigrationFiles())

	count, err := service.ApplyMigrations(ctx)
	if err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 migration applied, got %d", count)
	}
	if tableExists(t, db, "keys") {
		t.Error("applied migration 001 should not run again")
	}
}

func TestMigrationService_ApplyMigrations_Error(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	files := testMigrationFiles()
	files["004_invalid.sql"] = &fstest.MapFile{Data: []byte("INVALID SQL SYNTAX;")}
	service := NewMigrationService(newMockMigrationRepository(db), db, files)

	count, err := service.ApplyMigrations(ctx)
	if !errors.Is(err, domain.ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 migrations applied before failure, got %d", count)
	}

	var recorded int64
	db.Raw("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", "004").Scan(&recorded)
	if recorded != 0 {
		t.Error("failed migration must not be recorded")
	}
}

func TestMigrationService_ApplyMigrations_InvalidFileName(t *testing.T) {
	db := setupTestDB(t)
	files := fstest.MapFS{"create_keys.sql": {Data: []byte("CREATE TABLE keys (id INT);")}}
	service := NewMigrationService(newMockMigrationRepository(db), db, files)

	if _, err := service.ApplyMigrations(context.Background()); !errors.Is(err, domain.ErrInvalidMigrationFile) {
		t.Errorf("expected ErrInvalidMigrationFile, got %v", err)
	}
}

func TestMigrationService_ApplyMigrations_EnsureTableError(t *testing.T) {
	db := setupTestDB(t)
	repo := newMockMigrationRepository(db)
	repo.ensureErr = errors.New("permission denied")
	service := NewMigrationService(repo, db, testMigrationFiles())

	if _, err := service.ApplyMigrations(context.Background()); err == nil {
		t.Error("expected error when schema_migrations cannot be created")
	}
}

func TestMigrationService_GetMigrationStatus(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := newMockMigrationRepository(db)

	now := time.Now()
	repo.appliedMigrations["001"] = &domain.Migration{Version: "001", AppliedAt: &now, Status: domain.MigrationStatusApplied}

	service := NewMigrationService(repo, db, testMigrationFiles())

	migrations, err := service.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	expected := []struct {
		version string
		name    string
		status  domain.MigrationStatus
	}{
		{"001", "create_keys", domain.MigrationStatusApplied},
		{"002", "create_cases", domain.MigrationStatusPending},
		{"003", "create_contacts", domain.MigrationStatusPending},
	}
	for i, want := range expected {
		got := migrations[i]
		if got.Version != want.version || got.Name != want.name || got.Status != want.status {
			t.Errorf("migration %d: want %+v, got %+v", i, want, got)
		}
	}
	if migrations[0].AppliedAt == nil {
		t.Error("expected applied_at for applied migration")
	}
}

func TestParseMigrationFileName(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantErr     bool
	}{
		{"001_create_diagnosis_keys.sql", "001", "create_diagnosis_keys", false},
		{"20240101120000_add_index.sql", "20240101120000", "add_index", false},
		{"invalid.sql", "", "", true},
		{"_missing_version.sql", "", "", true},
		{"001_.sql", "", "", true},
		{"create_keys.sql", "", "", true},
		{"00a_create_keys.sql", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, err := parseMigrationFileName(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if version != tt.wantVersion || name != tt.wantName {
				t.Errorf("want (%s, %s), got (%s, %s)", tt.wantVersion, tt.wantName, version, name)
			}
		})
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (id INT);\n\nCREATE INDEX i ON a (id);\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[1] != "CREATE INDEX i ON a (id)" {
		t.Errorf("unexpected statement: %q", got[1])
	}
}
