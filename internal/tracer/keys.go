package tracer

import (
	"encoding/binary"

	"exposure-tracer/internal/domain"
)

const (
	// MajorVersion はメタデータに埋め込まれるプロトコルのメジャーバージョン。
	MajorVersion = 1
	// MinorVersion はメタデータに埋め込まれるプロトコルのマイナーバージョン。
	MinorVersion = 0
)

// RPIの平文ブロック先頭12バイト。"EN-RPI"の後ろはゼロ埋めで、末尾4バイトにENINがリトルエンディアンで入る。
var rpiMarker = padLabel("EN-RPI", blockSize-4)

var (
	rpikInfo = padLabel("EN-RPIK", blockSize)
	aemkInfo = padLabel("EN-AEMK", blockSize)
)

func padLabel(label string, size int) []byte {
	b := make([]byte, size)
	copy(b, label)
	return b
}

// DeriveRPIK はTEKからRPIKを導出する。
func DeriveRPIK(tek domain.TEK) domain.RPIK {
	var out domain.RPIK
	hkdfSHA256(tek.Value[:], nil, rpikInfo, out[:])
	return out
}

// DeriveAEMK はTEKからAEMKを導出する。
func DeriveAEMK(tek domain.TEK) domain.AEMK {
	var out domain.AEMK
	hkdfSHA256(tek.Value[:], nil, aemkInfo, out[:])
	return out
}

// DeriveKeyPair はTEKからRPIKとAEMKを導出する。
func DeriveKeyPair(tek domain.TEK) domain.KeyPair {
	return domain.KeyPair{
		RPIK: DeriveRPIK(tek),
		AEMK: DeriveAEMK(tek),
	}
}

func rpiBlock(enin uint32) [blockSize]byte {
	var block [blockSize]byte
	copy(block[:], rpiMarker)
	binary.LittleEndian.PutUint32(block[blockSize-4:], enin)
	return block
}

// DeriveRPI はRPIKとENIntervalNumberからRPIを導出する。
func DeriveRPI(rpik domain.RPIK, enin uint32) domain.RPI {
	return domain.RPI(aesEncryptBlock(rpik, rpiBlock(enin)))
}

// DeriveAEM はメタデータをAEMKで暗号化する。RPIをIVとして使う。
// 同じ関数をAEMに適用するとメタデータが復元される。
func DeriveAEM(aemk domain.AEMK, rpi domain.RPI, metadata domain.Metadata) domain.AEM {
	var out domain.AEM
	copy(out[:], aesCTR(aemk, rpi, metadata[:]))
	return out
}

// DecryptMetadata はAEMからメタデータを復元する。
func DecryptMetadata(aemk domain.AEMK, rpi domain.RPI, aem domain.AEM) domain.Metadata {
	var out domain.Metadata
	copy(out[:], aesCTR(aemk, rpi, aem[:]))
	return out
}

// DeriveMetadata はこのビルドのバージョンと送信電力からメタデータを生成する。
func DeriveMetadata(txPower int8) domain.Metadata {
	return domain.NewMetadata(MajorVersion, MinorVersion, txPower)
}

// DeriveDataPair はキーペアとENIntervalNumberから送信用のDataPairを導出する。
func DeriveDataPair(kp domain.KeyPair, enin uint32, metadata domain.Metadata) domain.DataPair {
	rpi := DeriveRPI(kp.RPIK, enin)
	return domain.DataPair{
		RPI: rpi,
		AEM: DeriveAEM(kp.AEMK, rpi, metadata),
	}
}
