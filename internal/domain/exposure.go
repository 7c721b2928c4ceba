package domain

import "time"

// Exposure は診断キーとの一致が確認された観測を表す。
type Exposure struct {
	ID                 string
	RPI                RPI
	ENIntervalNumber   uint32
	ScanIntervalNumber uint32
	Metadata           Metadata
	DetectedAt         time.Time
}

// CaseIDLength はケースIDの文字数。
const CaseIDLength = 7

// CaseID は陽性者が診断キーをアップロードするための使い捨てIDを表す。
type CaseID struct {
	ID        string
	Code      string
	CreatedAt time.Time
}

// ExpiresAt はケースIDの失効時刻を返す。
func (c *CaseID) ExpiresAt(ttl time.Duration) time.Time {
	return c.CreatedAt.Add(ttl)
}
