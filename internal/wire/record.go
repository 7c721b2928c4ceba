// Package wire はビーコンのアドバタイズペイロード（TLV形式、最大31バイト）の組み立てと解析を提供する。
package wire

import (
	"errors"
	"fmt"
)

// MaxFrameSize はアドバタイズペイロードの最大長。
const MaxFrameSize = 31

// レコード種別。
const (
	TypeFlags         byte = 0x01
	TypeServiceUUID16 byte = 0x03
	TypeServiceData16 byte = 0x16
)

// ErrFrameTooLarge はレコードを追加するとMaxFrameSizeを超える場合のエラー。
var ErrFrameTooLarge = errors.New("frame too large")

// errRecordOverrun は宣言された長さがフレーム末尾を越えるレコードを表す。
var errRecordOverrun = errors.New("record overruns frame")

// Record は [長さ][種別][ペイロード] 形式の1レコード。
type Record struct {
	Type    byte
	Payload []byte
}

// Builder はレコードを順に追加してフレームを組み立てる。
type Builder struct {
	buf []byte
}

// Add はレコードを追加する。長さバイトは 1 + len(payload)。
func (b *Builder) Add(typ byte, payload []byte) error {
	if len(payload) > 0xfe || len(b.buf)+2+len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: adding %d byte record to %d byte frame", ErrFrameTooLarge, len(payload), len(b.buf))
	}
	b.buf = append(b.buf, byte(len(payload)+1), typ)
	b.buf = append(b.buf, payload...)
	return nil
}

// Bytes は組み立てたフレームを返す。
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Iterator は信頼できないフレームからレコードを1件ずつ取り出す。
// 範囲外を読む前に停止し、Errで理由を返す。
type Iterator struct {
	frame  []byte
	offset int
	record Record
	err    error
}

// Records はframeのIteratorを返す。
func Records(frame []byte) *Iterator {
	return &Iterator{frame: frame}
}

// Next は次のレコードに進む。レコードがなくなるか不正な場合はfalseを返す。
// 長さ0のレコードはそれ以降が埋め草であることを示す。
func (it *Iterator) Next() bool {
	if it.err != nil || it.offset >= len(it.frame) {
		return false
	}
	length := int(it.frame[it.offset])
	if length == 0 {
		it.offset = len(it.frame)
		return false
	}
	start := it.offset + 1
	if start+length > len(it.frame) {
		it.err = fmt.Errorf("%w: record at %d declares %d bytes", errRecordOverrun, it.offset, length)
		return false
	}
	it.record = Record{
		Type:    it.frame[start],
		Payload: it.frame[start+1 : start+length],
	}
	it.offset = start + length
	return true
}

// Record は現在のレコードを返す。
func (it *Iterator) Record() Record {
	return it.record
}

// Err は走査を中断した理由を返す。
func (it *Iterator) Err() error {
	return it.err
}
