package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"exposure-tracer/internal/domain"
)

// fakeClock はテスト用の手動で進める時計。
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// mockRadio は送信フレームを記録し、スキャン時に用意したフレームを返す。
type mockRadio struct {
	mu         sync.Mutex
	advertised [][]byte
	incoming   [][]byte
	scans      int
	scanErr    error
}

func (r *mockRadio) Advertise(ctx context.Context, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advertised = append(r.advertised, append([]byte(nil), frame...))
	return nil
}

func (r *mockRadio) Scan(ctx context.Context, window time.Duration) (<-chan []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanErr != nil {
		return nil, r.scanErr
	}
	r.scans++
	ch := make(chan []byte, len(r.incoming))
	for _, f := range r.incoming {
		ch <- f
	}
	close(ch)
	return ch, nil
}

func (r *mockRadio) lastAdvertised() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.advertised) == 0 {
		return nil
	}
	return r.advertised[len(r.advertised)-1]
}

// memStore はメモリ上のSnapshotStore兼ScanReader。
type memStore struct {
	snapshot    []byte
	loadErr     error
	saveErr     error
	scans       map[uint32][]domain.DataPair
	pruneCutoff []uint32
}

func newMemStore() *memStore {
	return &memStore{scans: make(map[uint32][]domain.DataPair)}
}

func (s *memStore) SaveTEKSnapshot(ctx context.Context, blob []byte) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.snapshot = append([]byte(nil), blob...)
	return nil
}

func (s *memStore) LoadTEKSnapshot(ctx context.Context) ([]byte, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.snapshot == nil {
		return nil, domain.ErrSnapshotNotFound
	}
	return s.snapshot, nil
}

func (s *memStore) SaveScan(ctx context.Context, scanin uint32, pairs []domain.DataPair) error {
	s.scans[scanin] = append(s.scans[scanin], pairs...)
	return nil
}

func (s *memStore) DeleteScansBefore(ctx context.Context, scanin uint32) (int, error) {
	s.pruneCutoff = append(s.pruneCutoff, scanin)
	n := 0
	for k := range s.scans {
		if k < scanin {
			delete(s.scans, k)
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListScans(ctx context.Context) ([]uint32, error) {
	var out []uint32
	for k := range s.scans {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *memStore) LoadScan(ctx context.Context, scanin uint32) ([]domain.DataPair, error) {
	pairs, ok := s.scans[scanin]
	if !ok {
		return nil, errors.New("scan not found")
	}
	return pairs, nil
}

// xorSealer はテスト用の可逆な封印。
type xorSealer struct {
	encryptErr error
}

func (s *xorSealer) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if s.encryptErr != nil {
		return nil, s.encryptErr
	}
	return xor(plaintext), nil
}

func (s *xorSealer) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return xor(ciphertext), nil
}

func xor(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[i] ^ 0x5a
	}
	return out
}

// mockKeyFeed は用意した診断キーを返し、アップロードを記録する。
type mockKeyFeed struct {
	keys      []domain.TEK
	fetchErr  error
	oldest    []uint32
	uploadErr error
	caseID    string
	uploaded  []domain.TEK
}

func (f *mockKeyFeed) FetchKeys(ctx context.Context, oldest uint32, fn func(domain.TEK) error) error {
	f.oldest = append(f.oldest, oldest)
	if f.fetchErr != nil {
		return f.fetchErr
	}
	for _, k := range f.keys {
		if k.Epoch < oldest {
			continue
		}
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

func (f *mockKeyFeed) UploadKeys(ctx context.Context, caseID string, keys []domain.TEK) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.caseID = caseID
	f.uploaded = append([]domain.TEK(nil), keys...)
	return nil
}

// mockExposureRepository はメモリ上の接触記録。
type mockExposureRepository struct {
	exposures []*domain.Exposure
	createErr error
}

func (r *mockExposureRepository) ExistsByRPI(ctx context.Context, rpi domain.RPI) (bool, error) {
	for _, e := range r.exposures {
		if e.RPI == rpi {
			return true, nil
		}
	}
	return false, nil
}

func (r *mockExposureRepository) Create(ctx context.Context, exposure *domain.Exposure) error {
	if r.createErr != nil {
		return r.createErr
	}
	exposure.ID = "exposure-id"
	r.exposures = append(r.exposures, exposure)
	return nil
}

func (r *mockExposureRepository) FindAll(ctx context.Context) ([]*domain.Exposure, error) {
	return r.exposures, nil
}

// mockCaseIDRepository はメモリ上のケースID。
type mockCaseIDRepository struct {
	byCode    map[string]*domain.CaseID
	findErr   error
	deleted   []string
	purgedAt  []time.Time
	createErr error
	nextID    int
}

func newMockCaseIDRepository() *mockCaseIDRepository {
	return &mockCaseIDRepository{byCode: make(map[string]*domain.CaseID)}
}

func (r *mockCaseIDRepository) Create(ctx context.Context, caseID *domain.CaseID) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	caseID.ID = "case-" + string(rune('a'+r.nextID))
	r.byCode[caseID.Code] = caseID
	return nil
}

func (r *mockCaseIDRepository) FindByCode(ctx context.Context, code string) (*domain.CaseID, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	return r.byCode[code], nil
}

func (r *mockCaseIDRepository) FindCreatedSince(ctx context.Context, since time.Time) ([]*domain.CaseID, error) {
	var out []*domain.CaseID
	for _, c := range r.byCode {
		if !c.CreatedAt.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *mockCaseIDRepository) Delete(ctx context.Context, id string) error {
	r.deleted = append(r.deleted, id)
	for code, c := range r.byCode {
		if c.ID == id {
			delete(r.byCode, code)
		}
	}
	return nil
}

func (r *mockCaseIDRepository) DeleteCreatedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.purgedAt = append(r.purgedAt, before)
	var n int64
	for code, c := range r.byCode {
		if c.CreatedAt.Before(before) {
			delete(r.byCode, code)
			n++
		}
	}
	return n, nil
}

// mockDiagnosisKeyRepository はメモリ上の診断キー。
type mockDiagnosisKeyRepository struct {
	caseIDs *mockCaseIDRepository
	keys    []domain.TEK
	err     error
}

func (r *mockDiagnosisKeyRepository) CreateForCase(ctx context.Context, caseID string, keys []domain.TEK) error {
	if r.err != nil {
		return r.err
	}
	found := false
	for _, c := range r.caseIDs.byCode {
		if c.ID == caseID {
			found = true
		}
	}
	if !found {
		return domain.ErrCaseIDNotFound
	}
	_ = r.caseIDs.Delete(ctx, caseID)
	r.keys = append(r.keys, keys...)
	return nil
}

func (r *mockDiagnosisKeyRepository) FindSince(ctx context.Context, oldest uint32) ([]domain.TEK, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []domain.TEK
	for _, k := range r.keys {
		if k.Epoch >= oldest {
			out = append(out, k)
		}
	}
	return out, nil
}
