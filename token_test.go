package gcpauth

import (
	"strings"
	"testing"
	"time"
)

func TestToken_ExpiredImmediatelyFalse(t *testing.T) {
	tok := NewToken("secret", 100*time.Second)
	if tok.Expired() {
		t.Fatalf("token should not be expired immediately after construction")
	}
}

func TestToken_ExpiredAfterSafetyMargin(t *testing.T) {
	// expires_in - safety_margin is 1ms in the past: Expired() must be true.
	tok := NewToken("secret", safetyMargin-time.Millisecond)
	if !tok.Expired() {
		t.Fatalf("token within the safety margin of expiry must report Expired()")
	}
}

func TestToken_NearExpiry(t *testing.T) {
	tok := NewToken("secret", proactiveRefreshWindow-time.Second)
	if tok.Expired() {
		t.Fatalf("token should not yet be expired")
	}
	if !tok.NearExpiry() {
		t.Fatalf("token within the proactive refresh window should report NearExpiry()")
	}
}

func TestToken_NearExpiryFalseWhenFreshlyMinted(t *testing.T) {
	tok := NewToken("secret", time.Hour)
	if tok.NearExpiry() {
		t.Fatalf("a freshly minted hour-long token should not be near expiry")
	}
}

func TestToken_RedactsAccessTokenInString(t *testing.T) {
	tok := NewToken("super-secret-value", time.Hour)
	s := tok.String()
	if strings.Contains(s, "super-secret-value") {
		t.Fatalf("String() leaked the access token: %s", s)
	}
	if !strings.Contains(s, "****") {
		t.Fatalf("String() did not redact with the expected mask: %s", s)
	}
	if gs := tok.GoString(); strings.Contains(gs, "super-secret-value") {
		t.Fatalf("GoString() leaked the access token: %s", gs)
	}
}

func TestToken_NilIsSafe(t *testing.T) {
	var tok *Token
	if !tok.Expired() {
		t.Fatalf("nil token must report Expired() true")
	}
	if tok.AccessToken() != "" {
		t.Fatalf("nil token must report empty AccessToken()")
	}
	if tok.String() == "" {
		t.Fatalf("nil token String() must not be empty")
	}
}

func TestNewTokenWithExpiry(t *testing.T) {
	at := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := NewTokenWithExpiry("abc", at)
	if !tok.ExpiresAt().Equal(at) {
		t.Fatalf("ExpiresAt() = %v, want %v", tok.ExpiresAt(), at)
	}
	if tok.Expired() {
		t.Fatalf("a token expiring in 2099 should not be expired")
	}
}
