package handler

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/bcrypt"
)

// Credentials guard the API. PasswordHash, when set, is a bcrypt hash and
// takes the place of Password.
type Credentials struct {
	Username     string
	Password     string
	PasswordHash string
}

func (cr Credentials) verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cr.Username)) == 1

	var passOK bool
	if cr.PasswordHash != "" {
		passOK = bcrypt.CompareHashAndPassword([]byte(cr.PasswordHash), []byte(password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(password), []byte(cr.Password)) == 1
	}
	return userOK && passOK
}

func BasicAuth(cr Credentials) echo.MiddlewareFunc {
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Realm: "ctf-instancer",
		Validator: func(username, password string, c echo.Context) (bool, error) {
			return cr.verify(username, password), nil
		},
	})
}
