package session

import "testing"

func TestResumeTokenRoundTrip(t *testing.T) {
	token, err := MintResumeToken("player-7", "secret")
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	playerID, err := VerifyResumeToken(token, "secret")
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if playerID != "player-7" {
		t.Fatalf("expected player-7, got %q", playerID)
	}
}

func TestResumeTokenRejectsWrongSecret(t *testing.T) {
	token, err := MintResumeToken("player-7", "secret")
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	if _, err := VerifyResumeToken(token, "other"); err == nil {
		t.Fatalf("expected wrong secret to fail verification")
	}
}

func TestResumeTokenRejectsGarbage(t *testing.T) {
	if _, err := VerifyResumeToken("not.a.token", "secret"); err == nil {
		t.Fatalf("expected malformed token to fail verification")
	}
}
