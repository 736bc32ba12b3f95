package smtptest

import (
	"encoding/base64"
	"errors"
)

// errBadCredentials is returned for credentials that do not match.
var errBadCredentials = errors.New("authentication failed")

// loginAuth checks AUTH LOGIN exchanges against one configured account.
type loginAuth struct {
	username string
	password string
}

// enabled reports whether AUTH is advertised at all.
func (a *loginAuth) enabled() bool {
	return a != nil && a.username != ""
}

// verify decodes the base64 username and password lines of AUTH LOGIN and
// compares them with the account.
func (a *loginAuth) verify(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return errors.New("invalid base64 username")
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return errors.New("invalid base64 password")
	}
	if string(user) != a.username || string(pass) != a.password {
		return errBadCredentials
	}
	return nil
}
