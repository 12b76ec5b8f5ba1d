package auth

import "testing"

func TestGenerateAndVerify(t *testing.T) {
	svc := NewService("secret", 60)

	token, err := svc.GenerateToken("u1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	userID, err := svc.VerifyUser(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("user = %q; want u1", userID)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := NewService("secret", 60)
	if _, err := svc.VerifyUser("not-a-token"); err == nil {
		t.Fatal("garbage token accepted")
	}
	if _, err := svc.VerifyUser(""); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	minted := NewService("secret-a", 60)
	verifier := NewService("secret-b", 60)

	token, err := minted.GenerateToken("u1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := verifier.VerifyUser(token); err == nil {
		t.Fatal("token with wrong secret accepted")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	svc := NewService("secret", -1)

	token, err := svc.GenerateToken("u1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.VerifyUser(token); err == nil {
		t.Fatal("expired token accepted")
	}
}
