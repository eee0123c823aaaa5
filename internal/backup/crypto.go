package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"

	"golang.org/x/crypto/scrypt"
)

// archiveKeySalt is a fixed domain salt for deriving a backup archive's
// encryption key from an operator-supplied password. Like the guardrail key
// this scheme is descended from, this is a deterministic, non-authenticated
// construction: it is not confidentiality-grade, only a legacy deterrent
// against casual inspection of an exported archive.
const archiveKeySalt = "copilot-gateway-backup-archive-salt"

func deriveArchiveKey(password string) ([]byte, error) {
	return scrypt.Key([]byte(password), []byte(archiveKeySalt), 16384, 8, 1, 32)
}

// deriveFileIV derives a deterministic per-file IV from the key and the
// archive entry name, so the same password always re-derives the same
// ciphertext for a given entry name.
func deriveFileIV(key []byte, entryName string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(entryName))
	return mac.Sum(nil)[:16]
}

// encryptEntry XORs plaintext with an AES-256-CTR keystream derived from key
// and entryName.
func encryptEntry(key []byte, entryName string, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := deriveFileIV(key, entryName)
	out := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(out, plaintext)
	return out, nil
}

// decryptEntry reverses encryptEntry; AES-CTR is symmetric so this is the
// same operation under a different name for readability at call sites.
func decryptEntry(key []byte, entryName string, ciphertext []byte) ([]byte, error) {
	return encryptEntry(key, entryName, ciphertext)
}
