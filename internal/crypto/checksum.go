// Package crypto содержит криптографические примитивы:
// контрольную сумму владельца снапшота, хеширование паролей (Argon2id)
// и хеширование refresh-токенов.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// OwnerChecksum вычисляет tamper-detection контрольную сумму снапшота.
// Стабильный хеш от (ownerUserID, addressCount, completionCount,
// listVersion): позволяет обнаружить подмену владельца или грубое
// искажение персистентного состояния без хранения полной копии.
func OwnerChecksum(ownerUserID string, addressCount, completionCount, listVersion int) string {
	payload := fmt.Sprintf("%s|%d|%d|%d", ownerUserID, addressCount, completionCount, listVersion)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

// VerifyOwnerChecksum проверяет контрольную сумму снапшота
func VerifyOwnerChecksum(checksum, ownerUserID string, addressCount, completionCount, listVersion int) bool {
	return checksum == OwnerChecksum(ownerUserID, addressCount, completionCount, listVersion)
}

// HashToken хеширует refresh-токен для хранения на сервере.
// Детерминированный SHA256: по утечке базы сам токен не восстановим,
// а поиск по хешу остается точным.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
