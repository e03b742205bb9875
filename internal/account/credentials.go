package account

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrInvalidCredentials is returned when an email or password is rejected
// before reaching Firebase Authentication.
var ErrInvalidCredentials = errors.New("invalid credentials")

const minPasswordLength = 6

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9+._%\-]{1,256}@[a-zA-Z0-9][a-zA-Z0-9\-]{0,64}(\.[a-zA-Z0-9][a-zA-Z0-9\-]{0,25})+$`)

// validEmail checks that email is non-blank and looks like an address.
func validEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidCredentials)
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("%w: %q is not a valid email address", ErrInvalidCredentials, email)
	}
	return nil
}

// validPassword requires at least six characters with a digit, a lower case
// and an upper case letter, and no whitespace.
func validPassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidCredentials, minPasswordLength)
	}
	var digit, lower, upper bool
	for _, r := range password {
		switch {
		case unicode.IsSpace(r):
			return fmt.Errorf("%w: password must not contain whitespace", ErrInvalidCredentials)
		case r >= '0' && r <= '9':
			digit = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		}
	}
	if !digit || !lower || !upper {
		return fmt.Errorf("%w: password needs a digit, a lower case and an upper case letter", ErrInvalidCredentials)
	}
	return nil
}

func validCredentials(email, password string) error {
	if err := validEmail(email); err != nil {
		return err
	}
	return validPassword(password)
}
