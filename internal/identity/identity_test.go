package identity

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mintToken(t *testing.T, claims Claims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestFromTokenDecodesClaims(t *testing.T) {
	token := mintToken(t, Claims{
		UserID:   "u-1",
		FullName: "Pat Doe",
		Role:     "user",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	cred, err := FromToken(token)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if cred.Token != token {
		t.Fatal("credential must carry the raw token")
	}
	if cred.User.ID != "u-1" || cred.User.FullName != "Pat Doe" || cred.User.Role != "user" {
		t.Fatalf("unexpected identity: %+v", cred.User)
	}
}

func TestFromTokenFallsBackToSubject(t *testing.T) {
	token := mintToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-2"},
	})

	cred, err := FromToken(token)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if cred.User.ID != "u-2" {
		t.Fatalf("expected subject fallback, got %q", cred.User.ID)
	}
}

func TestFromTokenRejectsExpired(t *testing.T) {
	token := mintToken(t, Claims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	if _, err := FromToken(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestFromTokenRejectsEmptyAndGarbage(t *testing.T) {
	if _, err := FromToken(""); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
	if _, err := FromToken("not-a-jwt"); err == nil {
		t.Fatal("expected parse error for malformed token")
	}
	if _, err := FromToken(mintToken(t, Claims{})); err == nil {
		t.Fatal("expected error for token without user id")
	}
}

func TestStaticProvider(t *testing.T) {
	if _, err := (Static{}).Credential(); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("empty static provider must fail, got %v", err)
	}

	want := Credential{Token: "tok", User: Identity{ID: "u-1"}}
	got, err := (Static{Cred: want}).Credential()
	if err != nil || got != want {
		t.Fatalf("unexpected result: %+v, %v", got, err)
	}
}
