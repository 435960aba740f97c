package auth

import (
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/argon2"

	"ancla-aem/core/utils"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

type HashedPassword struct {
	Hash string
	Salt string
}

func HashPassword(password, pepper string) (HashedPassword, error) {
	salt, err := utils.RandString(32)
	if err != nil {
		return HashedPassword{}, err
	}
	return HashedPassword{Hash: hashWithSalt(password, salt, pepper), Salt: salt}, nil
}

func MustHashPassword(password, pepper string) HashedPassword {
	hp, err := HashPassword(password, pepper)
	if err != nil {
		panic(err)
	}
	return hp
}

func VerifyPassword(password, pepper, salt, hash string) bool {
	candidate := hashWithSalt(password, salt, pepper)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(hash)) == 1
}

func hashWithSalt(password, salt, pepper string) string {
	key := argon2.IDKey([]byte(password+pepper), []byte(salt), argonTime, argonMemory, argonThreads, argonKeyLen)
	return hex.EncodeToString(key)
}
