package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinGroupNameLength  = 3
	MaxGroupNameLength  = 100
	MaxMessageLength    = 2000
	MinUserNameLength   = 3
	MaxUserNameLength   = 50
	MinPasswordLength   = 6
	maxBcryptPasswordSz = 72
)

var (
	userNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// HashPassword 使用 bcrypt 对密码进行哈希
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// CheckPassword 验证密码
func CheckPassword(hashedPassword, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil
}

// ValidateUserName 验证用户名格式 (3-50 个字符, 字母数字及 _ . -)
func ValidateUserName(username string) bool {
	n := utf8.RuneCountInString(username)
	if n < MinUserNameLength || n > MaxUserNameLength {
		return false
	}
	return userNamePattern.MatchString(username)
}

// ValidatePassword 验证密码长度, bcrypt 只使用前 72 字节
func ValidatePassword(password string) bool {
	return len(password) >= MinPasswordLength && len(password) <= maxBcryptPasswordSz
}

// ValidateEmail 验证邮箱格式
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// NormalizeGroupName trims the name and reports whether its length is acceptable.
func NormalizeGroupName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	return name, n >= MinGroupNameLength && n <= MaxGroupNameLength
}

// NormalizeMessage trims the content and reports whether it is non-empty and
// within MaxMessageLength characters.
func NormalizeMessage(content string) (string, bool) {
	content = strings.TrimSpace(content)
	n := utf8.RuneCountInString(content)
	return content, n > 0 && n <= MaxMessageLength
}
