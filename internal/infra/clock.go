package infra

import "time"

// SystemClock は実時間を返すClock。
type SystemClock struct{}

// Now は現在時刻を返す。
func (SystemClock) Now() time.Time {
	return time.Now()
}
