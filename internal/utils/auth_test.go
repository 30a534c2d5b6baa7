package utils

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/smartmed/analyser-backend/internal/types"
)

func TestNormalizeUserFields(t *testing.T) {
	user := &types.User{
		Email:     "  Jane@Example.COM ",
		FirstName: " Jane ",
		LastName:  " Doe ",
	}
	NormalizeUserFields(user)
	if user.Email != "jane@example.com" {
		t.Fatalf("email = %q", user.Email)
	}
	if user.FirstName != "Jane" || user.LastName != "Doe" {
		t.Fatalf("names = %q %q", user.FirstName, user.LastName)
	}
}

func TestValidateRegistration(t *testing.T) {
	valid := &types.User{Email: "a@b.com", Password: "long-enough", FirstName: "A"}
	if err := ValidateRegistration(valid); err != nil {
		t.Fatalf("valid registration rejected: %v", err)
	}

	cases := []struct {
		name string
		user types.User
	}{
		{"bad email", types.User{Email: "nope", Password: "long-enough", FirstName: "A"}},
		{"short password", types.User{Email: "a@b.com", Password: "short", FirstName: "A"}},
		{"missing first name", types.User{Email: "a@b.com", Password: "long-enough"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			u := c.user
			if err := ValidateRegistration(&u); err == nil {
				t.Fatal("invalid registration accepted")
			}
		})
	}
}

func TestValidateLogin(t *testing.T) {
	if err := ValidateLogin("a@b.com", "pw"); err != nil {
		t.Fatalf("valid login rejected: %v", err)
	}
	if err := ValidateLogin("nope", "pw"); err == nil {
		t.Fatal("bad email accepted")
	}
	if err := ValidateLogin("a@b.com", ""); err == nil {
		t.Fatal("empty password accepted")
	}
}

func TestHashPassword(t *testing.T) {
	user := &types.User{Password: "plaintext-secret"}
	if err := HashPassword(user); err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if user.Password == "plaintext-secret" {
		t.Fatal("password left in plaintext")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("plaintext-secret")); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}
}
