package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 8

// bcryptCost はbcryptのコストパラメータ。
const bcryptCost = 12

// errPasswordTooShort はパスワードが短すぎることを表す。
var errPasswordTooShort = errors.New("パスワードは8文字以上である必要があります")

// errPasswordMismatch はパスワードが一致しないことを表す。
var errPasswordMismatch = errors.New("パスワードが一致しません")

// hashPassword はパスワードをbcryptでハッシュ化する。
func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", errPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// verifyPassword はパスワードとハッシュを照合する。
func verifyPassword(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return errPasswordMismatch
		}
		return err
	}
	return nil
}
