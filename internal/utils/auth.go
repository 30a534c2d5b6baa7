package utils

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/smartmed/analyser-backend/internal/normalization"
	"github.com/smartmed/analyser-backend/internal/types"
)

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NormalizeUserFields canonicalizes user input before validation.
func NormalizeUserFields(user *types.User) {
	user.Email = normalization.ParseInputString(user.Email)
	user.FirstName = strings.TrimSpace(user.FirstName)
	user.LastName = strings.TrimSpace(user.LastName)
}

func ValidateRegistration(user *types.User) error {
	if !emailRe.MatchString(user.Email) {
		return fmt.Errorf("invalid email address")
	}
	if len(user.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if user.FirstName == "" {
		return fmt.Errorf("first name is required")
	}
	return nil
}

func ValidateLogin(email, password string) error {
	if !emailRe.MatchString(email) {
		return fmt.Errorf("invalid email address")
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}
	return nil
}

// HashPassword replaces the user's plaintext password with its bcrypt hash.
func HashPassword(user *types.User) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	user.Password = string(hashed)
	return nil
}
