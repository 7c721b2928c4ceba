// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"exposure-tracer/internal/domain"
	"exposure-tracer/internal/tracer"
	"exposure-tracer/internal/wire"
)

var otelTracer = otel.Tracer("exposure-tracer/internal/usecase")

// Radio はアドバタイズとスキャンを行う無線のインターフェース。
type Radio interface {
	// Advertise は以後のアドバタイズペイロードをframeに差し替える。
	Advertise(ctx context.Context, frame []byte) error
	// Scan はwindowの間に受信したフレームを返す。windowが終わるとチャネルは閉じられる。
	Scan(ctx context.Context, window time.Duration) (<-chan []byte, error)
}

// Clock は現在時刻のインターフェース。
type Clock interface {
	Now() time.Time
}

// Sealer はTEKスナップショットの暗号化/復号のインターフェース。
type Sealer interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// SnapshotStore はTEKスナップショットとスキャン結果の永続化のインターフェース。
type SnapshotStore interface {
	SaveTEKSnapshot(ctx context.Context, blob []byte) error
	// LoadTEKSnapshot は保存がない場合にdomain.ErrSnapshotNotFoundを返す。
	LoadTEKSnapshot(ctx context.Context) ([]byte, error)
	SaveScan(ctx context.Context, scanin uint32, pairs []domain.DataPair) error
	DeleteScansBefore(ctx context.Context, scanin uint32) (int, error)
}

// BeaconConfig はビーコンの動作設定。
type BeaconConfig struct {
	Schedule      tracer.Schedule
	Capacity      int
	ScanWindow    time.Duration
	TickInterval  time.Duration
	TxPower       int8
	ScanRetention time.Duration
}

// BeaconService はTEKのローテーション、アドバタイズ、スキャンを制御する。
// Start/Tick/Runは単一のゴルーチンから呼び出す。
type BeaconService struct {
	cfg      BeaconConfig
	ring     *tracer.TEKRing
	radio    Radio
	store    SnapshotStore
	sealer   Sealer
	clock    Clock
	metadata domain.Metadata

	lastEpoch uint32
	started   bool
}

// NewBeaconService は新しいBeaconServiceを生成する。sealerがnilの場合はスナップショットを平文で保存する。
func NewBeaconService(cfg BeaconConfig, ring *tracer.TEKRing, radio Radio, store SnapshotStore, sealer Sealer, clock Clock) *BeaconService {
	return &BeaconService{
		cfg:      cfg,
		ring:     ring,
		radio:    radio,
		store:    store,
		sealer:   sealer,
		clock:    clock,
		metadata: tracer.DeriveMetadata(cfg.TxPower),
	}
}

// Start はスナップショットからTEKを復元し、必要であればローテーションしてからアドバタイズとスキャンを開始する。
// スナップショットの読み込みに失敗した場合は警告を出して空のリングで続行する。
func (s *BeaconService) Start(ctx context.Context) error {
	ctx, span := otelTracer.Start(ctx, "beacon.start")
	defer span.End()

	s.restore(ctx)

	epoch := tracer.Epoch(s.clock.Now())
	latest, ok := s.ring.Latest()
	if !ok || s.cfg.Schedule.TEKRollover(latest.Epoch, epoch) {
		if err := s.rotate(ctx, epoch); err != nil {
			return err
		}
	}

	s.lastEpoch = epoch
	s.started = true

	if err := s.advertise(ctx, epoch); err != nil {
		return err
	}
	return s.scan(ctx, epoch)
}

// Tick はロールオーバーを判定し、TEKのローテーションとRPIの更新を行ってからスキャンする。
// TEKは最新TEKの生成時刻から、RPIとスキャンは前回のTickから判定する。
func (s *BeaconService) Tick(ctx context.Context) error {
	if !s.started {
		return s.Start(ctx)
	}

	last, epoch := s.lastEpoch, tracer.Epoch(s.clock.Now())
	tekEpoch := last
	if latest, ok := s.ring.Latest(); ok {
		tekEpoch = latest.Epoch
	}
	tekRollover := s.cfg.Schedule.TEKRollover(tekEpoch, epoch)
	eninRollover := s.cfg.Schedule.ENINRollover(last, epoch)
	scanRollover := s.cfg.Schedule.ScanINRollover(last, epoch)

	if tekRollover {
		if err := s.rotate(ctx, epoch); err != nil {
			// 次のTickで再試行する
			return err
		}
	}
	s.lastEpoch = epoch

	if tekRollover || eninRollover {
		if err := s.advertise(ctx, epoch); err != nil {
			return err
		}
	}
	if scanRollover {
		if err := s.scan(ctx, epoch); err != nil {
			return err
		}
	}
	return nil
}

// Run はctxがキャンセルされるまでTickInterval毎にTickを呼び出す。
func (s *BeaconService) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		slog.WarnContext(ctx, "beacon start incomplete", "error", err)
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.WarnContext(ctx, "beacon tick failed", "error", err)
			}
		}
	}
}

// CurrentPair は現在のENIntervalNumberに対応するDataPairを返す。
func (s *BeaconService) CurrentPair() (domain.DataPair, error) {
	_, kp, err := s.ring.Current()
	if err != nil {
		return domain.DataPair{}, err
	}
	enin := s.cfg.Schedule.ENIntervalNumber(tracer.Epoch(s.clock.Now()))
	return tracer.DeriveDataPair(kp, enin, s.metadata), nil
}

func (s *BeaconService) restore(ctx context.Context) {
	blob, err := s.store.LoadTEKSnapshot(ctx)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		slog.InfoContext(ctx, "no tek snapshot, starting with an empty ring")
		return
	}
	if err == nil && s.sealer != nil {
		blob, err = s.sealer.Decrypt(ctx, blob)
	}
	if err == nil {
		err = s.ring.UnmarshalBinary(blob)
	}
	if err != nil {
		slog.WarnContext(ctx, "failed to restore tek snapshot, starting with an empty ring",
			"operation", "restore",
			"error", err,
		)
		return
	}
	slog.InfoContext(ctx, "tek snapshot restored", "teks", s.ring.Len())
}

func (s *BeaconService) rotate(ctx context.Context, epoch uint32) error {
	ctx, span := otelTracer.Start(ctx, "beacon.rotate", trace.WithAttributes(attribute.Int64("epoch", int64(epoch))))
	defer span.End()

	tek, err := s.ring.Rotate(epoch)
	if err != nil {
		return fmt.Errorf("rotating tek: %w", err)
	}
	slog.InfoContext(ctx, "tek rotated",
		"epoch", tek.Epoch,
		"enin", s.cfg.Schedule.ENIntervalNumber(tek.Epoch),
	)

	if err := s.persist(ctx); err != nil {
		// 永続化に失敗しても新しいTEKでの送信は続ける
		slog.ErrorContext(ctx, "failed to persist tek snapshot",
			"operation", "rotate",
			"error", err,
		)
	}
	s.prune(ctx, s.cfg.Schedule.ScanIntervalNumber(epoch))
	return nil
}

func (s *BeaconService) persist(ctx context.Context) error {
	blob, err := s.ring.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshaling ring: %w", err)
	}
	if s.sealer != nil {
		if blob, err = s.sealer.Encrypt(ctx, blob); err != nil {
			return fmt.Errorf("sealing snapshot: %w", err)
		}
	}
	if err := s.store.SaveTEKSnapshot(ctx, blob); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (s *BeaconService) prune(ctx context.Context, scanin uint32) {
	keep := s.cfg.Schedule.ScanIntervalsPer(s.cfg.ScanRetention)
	if keep == 0 || scanin <= keep {
		return
	}
	n, err := s.store.DeleteScansBefore(ctx, scanin-keep)
	if err != nil {
		slog.ErrorContext(ctx, "failed to prune scans",
			"operation", "prune",
			"error", err,
		)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "old scans pruned", "count", n)
	}
}

func (s *BeaconService) advertise(ctx context.Context, epoch uint32) error {
	enin := s.cfg.Schedule.ENIntervalNumber(epoch)
	_, kp, err := s.ring.Current()
	if err != nil {
		return fmt.Errorf("advertising: %w", err)
	}
	pair := tracer.DeriveDataPair(kp, enin, s.metadata)
	if err := s.radio.Advertise(ctx, wire.Encode(pair)); err != nil {
		return fmt.Errorf("advertising: %w", err)
	}
	slog.DebugContext(ctx, "advertising", "enin", enin, "rpi", pair.RPI.String())
	return nil
}

// scan はスキャンウィンドウの間フレームを受信し、重複を除いたDataPairを保存する。
func (s *BeaconService) scan(ctx context.Context, epoch uint32) error {
	scanin := s.cfg.Schedule.ScanIntervalNumber(epoch)
	ctx, span := otelTracer.Start(ctx, "beacon.scan", trace.WithAttributes(attribute.Int64("scanin", int64(scanin))))
	defer span.End()

	frames, err := s.radio.Scan(ctx, s.cfg.ScanWindow)
	if err != nil {
		return fmt.Errorf("starting scan: %w", err)
	}

	var collector tracer.Collector
	dropped := 0
	for frame := range frames {
		pair, ok := wire.Parse(frame)
		if !ok {
			dropped++
			continue
		}
		collector.Observe(pair)
	}
	span.SetAttributes(attribute.Int("pairs", collector.Len()), attribute.Int("dropped", dropped))

	if collector.Len() == 0 {
		return nil
	}
	if err := s.store.SaveScan(ctx, scanin, collector.Pairs()); err != nil {
		return fmt.Errorf("saving scan: %w", err)
	}
	slog.DebugContext(ctx, "scan saved", "scanin", scanin, "pairs", collector.Len(), "dropped", dropped)
	return nil
}
