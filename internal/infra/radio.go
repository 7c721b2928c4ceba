package infra

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// scanBuffer はスキャン1回あたりに保留できるフレーム数。溢れたフレームは受信できなかったものとして捨てる。
const scanBuffer = 64

// LoopbackBus はプロセス内の複数の無線をつなぐ仮想の電波空間。
type LoopbackBus struct {
	mu        sync.Mutex
	radios    []*LoopbackRadio
	listeners map[*scanListener]struct{}
}

type scanListener struct {
	owner *LoopbackRadio
	ch    chan []byte
}

// NewLoopbackBus は新しいLoopbackBusを生成する。
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{listeners: make(map[*scanListener]struct{})}
}

// NewRadio はバスに接続された無線を生成する。
func (b *LoopbackBus) NewRadio() *LoopbackRadio {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := &LoopbackRadio{bus: b}
	b.radios = append(b.radios, r)
	return r
}

// deliver はfrom以外のスキャン中の無線にフレームを届ける。b.muを保持して呼ぶこと。
func (b *LoopbackBus) deliver(from *LoopbackRadio, frame []byte) {
	for l := range b.listeners {
		if l.owner == from {
			continue
		}
		select {
		case l.ch <- frame:
		default:
			slog.Debug("loopback frame dropped", "reason", "scan buffer full")
		}
	}
}

// LoopbackRadio はLoopbackBus上の1台の無線。usecase.Radioを実装する。
type LoopbackRadio struct {
	bus   *LoopbackBus
	frame []byte
}

// Advertise は以後のアドバタイズペイロードを差し替え、スキャン中の他の無線に即座に届ける。
func (r *LoopbackRadio) Advertise(ctx context.Context, frame []byte) error {
	f := append([]byte(nil), frame...)

	r.bus.mu.Lock()
	defer r.bus.mu.Unlock()
	r.frame = f
	r.bus.deliver(r, f)
	return nil
}

// Scan はwindowの間に他の無線から届いたフレームを返す。開始時点でアドバタイズ中のフレームも含む。
func (r *LoopbackRadio) Scan(ctx context.Context, window time.Duration) (<-chan []byte, error) {
	l := &scanListener{owner: r, ch: make(chan []byte, scanBuffer)}

	r.bus.mu.Lock()
	r.bus.listeners[l] = struct{}{}
	for _, other := range r.bus.radios {
		if other == r || other.frame == nil {
			continue
		}
		select {
		case l.ch <- other.frame:
		default:
		}
	}
	r.bus.mu.Unlock()

	go func() {
		timer := time.NewTimer(window)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}

		r.bus.mu.Lock()
		delete(r.bus.listeners, l)
		close(l.ch)
		r.bus.mu.Unlock()
	}()
	return l.ch, nil
}
