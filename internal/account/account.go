// Package account hashes and verifies the passwords used to establish
// a web-session login ahead of the session's USER call (spec.md §4.9),
// grounded on the teacher's internal/user.User hashPassword/
// verifyPassword pair.
package account

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	saltLen     = 16
	argonTime   = 1
	argonMemory = 64 * 1024
	argonLanes  = 4
	argonKeyLen = 32
)

// HashPassword returns a freshly salted Argon2id hash of password,
// hex-encoded as (hash, salt).
func HashPassword(password string) (hash, salt string, err error) {
	s := make([]byte, saltLen)
	if _, err := rand.Read(s); err != nil {
		return "", "", fmt.Errorf("account: generate salt: %w", err)
	}
	h := argon2.IDKey([]byte(password), s, argonTime, argonMemory, argonLanes, argonKeyLen)
	return hex.EncodeToString(h), hex.EncodeToString(s), nil
}

// VerifyPassword reports whether password matches the given
// hex-encoded hash/salt pair, in constant time.
func VerifyPassword(password, hashHex, saltHex string) bool {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonLanes, argonKeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1
}
