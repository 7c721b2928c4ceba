package wire

import (
	"bytes"
	"encoding/binary"

	"exposure-tracer/internal/domain"
)

// ServiceUUID は接触確認サービスに割り当てられた16ビットUUID。
const ServiceUUID uint16 = 0xFD6F

// FlagsValue はFlagsレコードの値（LE General Discoverable, BR/EDR非対応）。
const FlagsValue byte = 0x1a

// ServiceDataSize はサービスデータのペイロード長（UUID + RPI + AEM）。
const ServiceDataSize = 2 + domain.KeySize + domain.MetadataSize

var serviceUUID = binary.LittleEndian.AppendUint16(nil, ServiceUUID)

// Encode はDataPairからアドバタイズペイロードを組み立てる。
func Encode(pair domain.DataPair) []byte {
	serviceData := make([]byte, 0, ServiceDataSize)
	serviceData = append(serviceData, serviceUUID...)
	serviceData = append(serviceData, pair.RPI[:]...)
	serviceData = append(serviceData, pair.AEM[:]...)

	var b Builder
	// 3レコードの合計は31バイトに収まるためエラーにならない。
	_ = b.Add(TypeFlags, []byte{FlagsValue})
	_ = b.Add(TypeServiceUUID16, serviceUUID)
	_ = b.Add(TypeServiceData16, serviceData)
	return b.Bytes()
}

// Parse は受信したペイロードからDataPairを取り出す。
// サービスUUIDレコードと正しい長さのサービスデータレコードの両方がある場合のみtrueを返す。
func Parse(frame []byte) (domain.DataPair, bool) {
	var (
		pair            domain.DataPair
		uuidSeen        bool
		serviceDataSeen bool
	)

	it := Records(frame)
	for it.Next() {
		rec := it.Record()
		switch rec.Type {
		case TypeServiceUUID16:
			if bytes.Equal(rec.Payload, serviceUUID) {
				uuidSeen = true
			}
		case TypeServiceData16:
			if len(rec.Payload) != ServiceDataSize || !bytes.Equal(rec.Payload[:2], serviceUUID) {
				continue
			}
			copy(pair.RPI[:], rec.Payload[2:2+domain.KeySize])
			copy(pair.AEM[:], rec.Payload[2+domain.KeySize:])
			serviceDataSeen = true
		}
	}
	if it.Err() != nil {
		return domain.DataPair{}, false
	}
	if !uuidSeen || !serviceDataSeen {
		return domain.DataPair{}, false
	}
	return pair, true
}
