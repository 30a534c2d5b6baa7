package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/smartmed/analyser-backend/internal/apierr"
	"github.com/smartmed/analyser-backend/internal/db"
	"github.com/smartmed/analyser-backend/internal/logger"
	"github.com/smartmed/analyser-backend/internal/repos"
	"github.com/smartmed/analyser-backend/internal/requestdata"
	"github.com/smartmed/analyser-backend/internal/types"
)

func newAuthFixture(t *testing.T) (AuthService, *gorm.DB) {
	t.Helper()
	gdb := db.OpenTest(t)
	log := logger.NewNop()
	svc := NewAuthService(
		gdb, log,
		repos.NewUserRepo(gdb, log),
		repos.NewUserTokenRepo(gdb, log),
		"test-secret",
		15*time.Minute,
		24*time.Hour,
	)
	return svc, gdb
}

func registerTestUser(t *testing.T, svc AuthService) *types.User {
	t.Helper()
	user := &types.User{
		ID:        uuid.New(),
		Email:     "Jane@Example.com",
		Password:  "correct-horse-battery",
		FirstName: "Jane",
		LastName:  "Doe",
	}
	if err := svc.RegisterUser(context.Background(), user); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	return user
}

func TestRegisterNormalizesAndHashes(t *testing.T) {
	svc, _ := newAuthFixture(t)
	user := registerTestUser(t, svc)

	if user.Email != "jane@example.com" {
		t.Fatalf("email = %q, want lowercased", user.Email)
	}
	if user.Password == "correct-horse-battery" {
		t.Fatal("password stored in plaintext")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newAuthFixture(t)
	registerTestUser(t, svc)

	dup := &types.User{
		ID:        uuid.New(),
		Email:     "JANE@example.com",
		Password:  "another-password",
		FirstName: "Jane",
	}
	if err := svc.RegisterUser(context.Background(), dup); !apierr.Is(err, apierr.KindValidation) {
		t.Fatalf("err = %v, want validation error for duplicate email", err)
	}
}

func TestRegisterRejectsWeakInput(t *testing.T) {
	svc, _ := newAuthFixture(t)
	cases := []*types.User{
		{ID: uuid.New(), Email: "not-an-email", Password: "long-enough-pw", FirstName: "A"},
		{ID: uuid.New(), Email: "a@b.com", Password: "short", FirstName: "A"},
		{ID: uuid.New(), Email: "a@b.com", Password: "long-enough-pw", FirstName: ""},
	}
	for i, u := range cases {
		if err := svc.RegisterUser(context.Background(), u); err == nil {
			t.Fatalf("case %d: invalid registration accepted", i)
		}
	}
}

func TestLoginAndTokenContext(t *testing.T) {
	svc, _ := newAuthFixture(t)
	user := registerTestUser(t, svc)
	ctx := context.Background()

	access, refresh, err := svc.LoginUser(ctx, "jane@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("LoginUser: %v", err)
	}
	if access == "" || refresh == "" {
		t.Fatal("missing tokens")
	}

	authed, err := svc.SetContextFromToken(ctx, access)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}
	rd := requestdata.GetRequestData(authed)
	if rd == nil || rd.UserID != user.ID {
		t.Fatalf("request data = %+v, want user %s", rd, user.ID)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newAuthFixture(t)
	registerTestUser(t, svc)

	if _, _, err := svc.LoginUser(context.Background(), "jane@example.com", "wrong"); !apierr.Is(err, apierr.KindUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}

func TestRefreshRotatesTokens(t *testing.T) {
	svc, _ := newAuthFixture(t)
	registerTestUser(t, svc)
	ctx := context.Background()

	_, refresh, err := svc.LoginUser(ctx, "jane@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("LoginUser: %v", err)
	}

	rctx := requestdata.WithRequestData(ctx, &requestdata.RequestData{RefreshToken: refresh})
	newAccess, newRefresh, err := svc.RefreshUser(rctx)
	if err != nil {
		t.Fatalf("RefreshUser: %v", err)
	}
	if newAccess == "" || newRefresh == refresh {
		t.Fatal("refresh did not rotate the token pair")
	}

	// The old refresh token is single-use.
	if _, _, err := svc.RefreshUser(rctx); !apierr.Is(err, apierr.KindUnauthorized) {
		t.Fatalf("err = %v, want unauthorized for a consumed refresh token", err)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	svc, _ := newAuthFixture(t)
	registerTestUser(t, svc)
	ctx := context.Background()

	access, _, err := svc.LoginUser(ctx, "jane@example.com", "correct-horse-battery")
	if err != nil {
		t.Fatalf("LoginUser: %v", err)
	}

	authed, err := svc.SetContextFromToken(ctx, access)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}
	if err := svc.LogoutUser(authed); err != nil {
		t.Fatalf("LogoutUser: %v", err)
	}

	if _, err := svc.SetContextFromToken(ctx, access); !apierr.Is(err, apierr.KindUnauthorized) {
		t.Fatalf("err = %v, want unauthorized after logout", err)
	}
}

func TestSetContextFromTokenGarbage(t *testing.T) {
	svc, _ := newAuthFixture(t)
	if _, err := svc.SetContextFromToken(context.Background(), "not-a-jwt"); !apierr.Is(err, apierr.KindUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
}
