package tracer

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"exposure-tracer/internal/domain"
)

// DefaultRingCapacity はTEKの保持数（1日1件で14日分）。
const DefaultRingCapacity = 14

// TEKRing はTEKを固定長の循環バッファに保持し、最新TEKのキーペアをキャッシュする。
// 容量を超えると最も古いスロットが上書きされる。
type TEKRing struct {
	mu      sync.RWMutex
	slots   []domain.TEK
	head    int
	count   int
	keyPair domain.KeyPair
	random  io.Reader
}

// NewTEKRing は新しいTEKRingを生成する。randomがnilの場合はcrypto/randを使う。
func NewTEKRing(capacity int, random io.Reader) *TEKRing {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	if random == nil {
		random = rand.Reader
	}
	return &TEKRing{
		slots:  make([]domain.TEK, capacity),
		random: random,
	}
}

// Capacity はスロット数を返す。
func (r *TEKRing) Capacity() int {
	return len(r.slots)
}

// Len は保持しているTEKの件数を返す。
func (r *TEKRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Rotate は新しいTEKをheadに書き込み、キーペアを再計算する。
// TEKとキーペアの更新は同一のロック内で行われる。
func (r *TEKRing) Rotate(epoch uint32) (domain.TEK, error) {
	tek := domain.TEK{Epoch: epoch}
	if _, err := io.ReadFull(r.random, tek.Value[:]); err != nil {
		return domain.TEK{}, fmt.Errorf("generating tek: %w", err)
	}
	kp := DeriveKeyPair(tek)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots[r.head] = tek
	r.head = (r.head + 1) % len(r.slots)
	if r.count < len(r.slots) {
		r.count++
	}
	r.keyPair = kp
	return tek, nil
}

func (r *TEKRing) latestLocked() domain.TEK {
	return r.slots[(r.head+len(r.slots)-1)%len(r.slots)]
}

// Latest は最新のTEKを返す。一度もRotateしていない場合はfalseを返す。
func (r *TEKRing) Latest() (domain.TEK, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return domain.TEK{}, false
	}
	return r.latestLocked(), true
}

// Current は最新のTEKとそのキーペアを同時に返す。
func (r *TEKRing) Current() (domain.TEK, domain.KeyPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return domain.TEK{}, domain.KeyPair{}, domain.ErrNoTEK
	}
	return r.latestLocked(), r.keyPair, nil
}

// TEKs は保持しているTEKを古い順に返す。
func (r *TEKRing) TEKs() []domain.TEK {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.TEK, 0, r.count)
	start := (r.head - r.count + len(r.slots)) % len(r.slots)
	for i := 0; i < r.count; i++ {
		out = append(out, r.slots[(start+i)%len(r.slots)])
	}
	return out
}

// MarshalBinary はすべてのスロットを20バイトレコードの連続として返す。空スロットはゼロで埋められる。
func (r *TEKRing) MarshalBinary() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]byte, 0, len(r.slots)*TEKRecordSize)
	for _, tek := range r.slots {
		out = AppendTEKRecord(out, tek)
	}
	return out, nil
}

// UnmarshalBinary はスナップショットからスロットを復元する。
// headは生成エポックが最大のスロットの次の位置として復元される。
func (r *TEKRing) UnmarshalBinary(b []byte) error {
	if len(b) != len(r.slots)*TEKRecordSize {
		return fmt.Errorf("%w: got %d bytes, want %d", domain.ErrInvalidSnapshot, len(b), len(r.slots)*TEKRecordSize)
	}

	slots := make([]domain.TEK, len(r.slots))
	count, newest := 0, -1
	for i := range slots {
		tek, err := ParseTEKRecord(b[i*TEKRecordSize : (i+1)*TEKRecordSize])
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidSnapshot, err)
		}
		slots[i] = tek
		if tek.IsZero() {
			continue
		}
		count++
		if newest < 0 || tek.Epoch > slots[newest].Epoch {
			newest = i
		}
	}

	var kp domain.KeyPair
	head := 0
	if newest >= 0 {
		kp = DeriveKeyPair(slots[newest])
		head = (newest + 1) % len(slots)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots = slots
	r.head = head
	r.count = count
	r.keyPair = kp
	return nil
}
