package tracer

import (
	"crypto/subtle"
	"encoding/binary"

	"exposure-tracer/internal/domain"
)

// Match は診断キーと一致した観測を表す。
type Match struct {
	Pair             domain.DataPair
	TEK              domain.TEK
	ENIntervalNumber uint32
	Metadata         domain.Metadata
}

// Verify はDataPairがTEKから導出されたものかを判定する。
// 一致した場合はENIntervalNumberと復号したメタデータを返す。
func Verify(pair domain.DataPair, tek domain.TEK) (uint32, domain.Metadata, bool) {
	return verifyWith(pair, tek, DeriveRPIK(tek))
}

func verifyWith(pair domain.DataPair, tek domain.TEK, rpik domain.RPIK) (uint32, domain.Metadata, bool) {
	block := aesDecryptBlock(rpik, pair.RPI)
	if subtle.ConstantTimeCompare(block[:len(rpiMarker)], rpiMarker) != 1 {
		return 0, domain.Metadata{}, false
	}
	enin := binary.LittleEndian.Uint32(block[blockSize-4:])
	return enin, DecryptMetadata(DeriveAEMK(tek), pair.RPI, pair.AEM), true
}

// MatchAll はすべての観測とすべての候補キーの組み合わせを総当たりで照合する。
// 計算量は O(len(pairs) × len(candidates)) で、索引による絞り込みは行わない。
func MatchAll(pairs []domain.DataPair, candidates []domain.TEK) []Match {
	var matches []Match
	for _, tek := range candidates {
		rpik := DeriveRPIK(tek)
		for _, pair := range pairs {
			enin, md, ok := verifyWith(pair, tek, rpik)
			if !ok {
				continue
			}
			matches = append(matches, Match{
				Pair:             pair,
				TEK:              tek,
				ENIntervalNumber: enin,
				Metadata:         md,
			})
		}
	}
	return matches
}
