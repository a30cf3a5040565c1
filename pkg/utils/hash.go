package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// HashStreamKey hashes a stream key for storage; the plain key is only ever shown to the host once.
func HashStreamKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckStreamKey compares a presented stream key with the stored hash.
func CheckStreamKey(plain, hashed string) bool {
	if plain == "" || hashed == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	return err == nil
}
