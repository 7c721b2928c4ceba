// Package tracer は接触確認ビーコンの鍵スケジュール、インターバル計算、TEKリング、照合処理を提供する。
package tracer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const blockSize = aes.BlockSize

// 暗号プリミティブの失敗は鍵長不正などのプログラミングエラーであり、処理を継続しない。
func mustCipher(key [blockSize]byte) cipher.Block {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic(fmt.Sprintf("tracer: aes cipher: %v", err))
	}
	return block
}

// hkdfSHA256 はHKDF-SHA256でoutを埋める。
func hkdfSHA256(secret, salt, info, out []byte) {
	r := hkdf.New(sha256.New, secret, salt, info)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(fmt.Sprintf("tracer: hkdf: %v", err))
	}
}

// aesEncryptBlock はAES-128-ECBで1ブロックを暗号化する。
func aesEncryptBlock(key, src [blockSize]byte) [blockSize]byte {
	var dst [blockSize]byte
	mustCipher(key).Encrypt(dst[:], src[:])
	return dst
}

// aesDecryptBlock はAES-128-ECBで1ブロックを復号する。
func aesDecryptBlock(key, src [blockSize]byte) [blockSize]byte {
	var dst [blockSize]byte
	mustCipher(key).Decrypt(dst[:], src[:])
	return dst
}

// aesCTR はAES-128-CTRのキーストリームをdataに適用する。同じ鍵とIVで2回適用すると元に戻る。
func aesCTR(key, iv [blockSize]byte, data []byte) []byte {
	out := make([]byte, len(data))
	cipher.NewCTR(mustCipher(key), iv[:]).XORKeyStream(out, data)
	return out
}
