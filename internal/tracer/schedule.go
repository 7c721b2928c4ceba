package tracer

import (
	"fmt"
	"time"

	"exposure-tracer/internal/domain"
)

const (
	// DefaultENIntervalMinutes はRPIを切り替える間隔（分）。
	DefaultENIntervalMinutes = 10
	// DefaultScanIntervalMinutes はスキャンを行う間隔（分）。
	DefaultScanIntervalMinutes = 5
	// DefaultTEKIntervalMinutes はTEKを切り替える間隔（分）。
	DefaultTEKIntervalMinutes = 24 * 60
)

// Schedule はエポック秒から各インターバル番号を計算する。
type Schedule struct {
	enin uint32
	scan uint32
	tek  uint32
}

// NewSchedule は各間隔（分）からScheduleを生成する。
// TEK間隔はEN間隔の整数倍でなければならない。
func NewSchedule(eninMinutes, scanMinutes, tekMinutes uint32) (Schedule, error) {
	if eninMinutes == 0 || scanMinutes == 0 || tekMinutes == 0 {
		return Schedule{}, fmt.Errorf("%w: intervals must be positive", domain.ErrInvalidSchedule)
	}
	if tekMinutes%eninMinutes != 0 {
		return Schedule{}, fmt.Errorf("%w: tek interval %d is not a multiple of en interval %d",
			domain.ErrInvalidSchedule, tekMinutes, eninMinutes)
	}
	return Schedule{enin: eninMinutes, scan: scanMinutes, tek: tekMinutes}, nil
}

// DefaultSchedule は既定の間隔のScheduleを返す。
func DefaultSchedule() Schedule {
	return Schedule{
		enin: DefaultENIntervalMinutes,
		scan: DefaultScanIntervalMinutes,
		tek:  DefaultTEKIntervalMinutes,
	}
}

// Epoch は時刻をUNIXエポック秒に変換する。
func Epoch(t time.Time) uint32 {
	return uint32(t.Unix())
}

// ENIntervalNumber はエポック秒のENIntervalNumberを返す。
func (s Schedule) ENIntervalNumber(epoch uint32) uint32 {
	return epoch / (60 * s.enin)
}

// ScanIntervalNumber はエポック秒のスキャンインターバル番号を返す。
func (s Schedule) ScanIntervalNumber(epoch uint32) uint32 {
	return epoch / (60 * s.scan)
}

// IntervalsPerTEK は1つのTEKが有効なENインターバル数を返す。
func (s Schedule) IntervalsPerTEK() uint32 {
	return s.tek / s.enin
}

// TEKInterval は1つのTEKが有効な期間を返す。
func (s Schedule) TEKInterval() time.Duration {
	return time.Duration(s.tek) * time.Minute
}

// ScanIntervalsPer は期間dに含まれるスキャンインターバル数を返す。
func (s Schedule) ScanIntervalsPer(d time.Duration) uint32 {
	return uint32(d / (time.Duration(s.scan) * time.Minute))
}

// ENINRollover はlastからcurrentの間にENIntervalNumberが進んだかを返す。
func (s Schedule) ENINRollover(last, current uint32) bool {
	return s.ENIntervalNumber(current) > s.ENIntervalNumber(last)
}

// ScanINRollover はlastからcurrentの間にスキャンインターバル番号が進んだかを返す。
func (s Schedule) ScanINRollover(last, current uint32) bool {
	return s.ScanIntervalNumber(current) > s.ScanIntervalNumber(last)
}

// TEKRollover は新しいTEKを生成すべきかを返す。
// lastからcurrentの間にTEK境界を1つ以上またいだ場合に真になる。
// スリープで境界ちょうどのENインターバルを飛ばした場合も含む。
func (s Schedule) TEKRollover(last, current uint32) bool {
	perTEK := s.IntervalsPerTEK()
	return s.ENIntervalNumber(current)/perTEK > s.ENIntervalNumber(last)/perTEK
}
