package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt only looks at the first 72 bytes of a password.
const (
	MinPasswordLength = 6
	MaxPasswordBytes  = 72
)

// ErrPasswordLength 表示密码长度不在允许范围内。
var ErrPasswordLength = errors.New("密码长度必须在 6 到 72 个字节之间")

// HashPassword 校验密码长度后生成 bcrypt 哈希，写入 User.PasswordHash。
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordBytes {
		return "", ErrPasswordLength
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPasswordHash reports whether password matches a stored hash. Users
// without a hash (seeded rows, imports) never match.
func CheckPasswordHash(password, hash string) bool {
	if hash == "" || len(password) > MaxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
