package utils

import "golang.org/x/crypto/bcrypt"

// HashKey 生成 API key 的 bcrypt 哈希，写入 jwt.api_key_hash
func HashKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckKey 校验 API key
func CheckKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
