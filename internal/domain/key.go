// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"encoding/hex"
)

const (
	// KeySize はTEK・RPIK・AEMK・RPIのバイト長。
	KeySize = 16
	// MetadataSize はメタデータとAEMのバイト長。
	MetadataSize = 4
)

// TEK はTemporary Exposure Keyを表す。
// Epochは生成時刻のUNIXエポック秒。Epoch == 0 かつ Value がゼロのTEKは空スロットを表す。
type TEK struct {
	Epoch uint32
	Value [KeySize]byte
}

// IsZero はTEKが未使用スロットかどうかを返す。
func (t TEK) IsZero() bool {
	return t == TEK{}
}

// String はTEKの16進表現を返す。
func (t TEK) String() string {
	return hex.EncodeToString(t.Value[:])
}

// RPIK はRolling Proximity Identifier Keyを表す。
type RPIK [KeySize]byte

// AEMK はAssociated Encrypted Metadata Keyを表す。
type AEMK [KeySize]byte

// KeyPair は1つのTEKから導出されたRPIKとAEMKの組。
type KeyPair struct {
	RPIK RPIK
	AEMK AEMK
}

// RPI はRolling Proximity Identifierを表す。
type RPI [KeySize]byte

// String はRPIの16進表現を返す。
func (r RPI) String() string {
	return hex.EncodeToString(r[:])
}

// AEM はAssociated Encrypted Metadataを表す。
type AEM [MetadataSize]byte

// DataPair は送信・受信・永続化される唯一の単位。
type DataPair struct {
	RPI RPI
	AEM AEM
}

// Metadata は暗号化前のメタデータ。
// 先頭バイトの上位4ビットがバージョン、2バイト目が送信電力（dBm、符号付き）。
type Metadata [MetadataSize]byte

// NewMetadata はバージョンと送信電力からメタデータを生成する。
func NewMetadata(major, minor uint8, txPower int8) Metadata {
	var m Metadata
	m[0] = (major&0b11)<<6 | (minor&0b11)<<4
	m[1] = byte(txPower)
	return m
}

// Version はメジャー・マイナーバージョンを返す。
func (m Metadata) Version() (major, minor uint8) {
	return m[0] >> 6 & 0b11, m[0] >> 4 & 0b11
}

// TxPower は送信電力（dBm）を返す。
func (m Metadata) TxPower() int8 {
	return int8(m[1])
}
