package tracer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"exposure-tracer/internal/domain"
)

const (
	// TEKRecordSize はTEKレコードのバイト長（エポック4バイト + 鍵16バイト）。
	TEKRecordSize = 4 + domain.KeySize
	// DataPairRecordSize はDataPairレコードのバイト長（RPI16バイト + AEM4バイト）。
	DataPairRecordSize = domain.KeySize + domain.MetadataSize
)

// AppendTEKRecord はTEKをリトルエンディアンのエポックと鍵の20バイトレコードとしてdstに追記する。
func AppendTEKRecord(dst []byte, tek domain.TEK) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, tek.Epoch)
	return append(dst, tek.Value[:]...)
}

// ParseTEKRecord は20バイトのレコードをTEKに変換する。
func ParseTEKRecord(b []byte) (domain.TEK, error) {
	if len(b) != TEKRecordSize {
		return domain.TEK{}, fmt.Errorf("%w: tek record is %d bytes", domain.ErrInvalidRecord, len(b))
	}
	var tek domain.TEK
	tek.Epoch = binary.LittleEndian.Uint32(b[:4])
	copy(tek.Value[:], b[4:])
	return tek, nil
}

// TEKRecordReader は連続するTEKレコードをストリームから1件ずつ読み出す。
type TEKRecordReader struct {
	r   io.Reader
	buf [TEKRecordSize]byte
}

// NewTEKRecordReader は新しいTEKRecordReaderを生成する。
func NewTEKRecordReader(r io.Reader) *TEKRecordReader {
	return &TEKRecordReader{r: r}
}

// Next は次のTEKを返す。終端ではio.EOF、途中で切れたレコードではErrInvalidRecordを返す。
func (r *TEKRecordReader) Next() (domain.TEK, error) {
	if _, err := io.ReadFull(r.r, r.buf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return domain.TEK{}, fmt.Errorf("%w: truncated tek record", domain.ErrInvalidRecord)
		}
		return domain.TEK{}, err
	}
	return ParseTEKRecord(r.buf[:])
}

// MarshalDataPairs はDataPairの配列を連続したレコードに変換する。
func MarshalDataPairs(pairs []domain.DataPair) []byte {
	out := make([]byte, 0, len(pairs)*DataPairRecordSize)
	for _, p := range pairs {
		out = append(out, p.RPI[:]...)
		out = append(out, p.AEM[:]...)
	}
	return out
}

// UnmarshalDataPairs は連続したレコードをDataPairの配列に変換する。
func UnmarshalDataPairs(b []byte) ([]domain.DataPair, error) {
	if len(b)%DataPairRecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", domain.ErrInvalidRecord, len(b), DataPairRecordSize)
	}
	pairs := make([]domain.DataPair, len(b)/DataPairRecordSize)
	for i := range pairs {
		rec := b[i*DataPairRecordSize:]
		copy(pairs[i].RPI[:], rec[:domain.KeySize])
		copy(pairs[i].AEM[:], rec[domain.KeySize:DataPairRecordSize])
	}
	return pairs, nil
}
