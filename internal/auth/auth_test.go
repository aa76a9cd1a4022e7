package auth

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func basicHeader(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// fastAuthenticator keeps tests quick; the work factor does not change the
// verification logic.
func fastAuthenticator(t *testing.T, users map[string]string) *BasicAuthenticator {
	t.Helper()
	a, err := NewBasicAuthenticator(nil)
	if err != nil {
		t.Fatal(err)
	}
	a.Iterations = 1000
	for u, p := range users {
		if err := a.AddUser(u, p); err != nil {
			t.Fatal(err)
		}
	}
	return a
}

func TestParseBasicAuth(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantUser string
		wantPass string
		wantOK   bool
	}{
		{"valid", basicHeader("alice", "secret"), "alice", "secret", true},
		{"lowercase scheme", "basic " + base64.StdEncoding.EncodeToString([]byte("a:b")), "a", "b", true},
		{"password with colon", basicHeader("bob", "x:y"), "bob", "x:y", true},
		{"empty", "", "", "", false},
		{"bearer", "Bearer token", "", "", false},
		{"bad base64", "Basic !!!", "", "", false},
		{"no colon", "Basic " + base64.StdEncoding.EncodeToString([]byte("nocolon")), "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, pass, ok := ParseBasicAuth(tt.header)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (user != tt.wantUser || pass != tt.wantPass) {
				t.Errorf("got %q:%q, want %q:%q", user, pass, tt.wantUser, tt.wantPass)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	a := fastAuthenticator(t, map[string]string{"alice": "secret"})

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"correct", basicHeader("alice", "secret"), true},
		{"wrong password", basicHeader("alice", "nope"), false},
		{"unknown user", basicHeader("mallory", "secret"), false},
		{"missing header", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Authenticate(tt.header); got != tt.want {
				t.Errorf("Authenticate() = %v, want %v", got, tt.want)
			}
		})
	}

	a.RemoveUser("alice")
	if a.Authenticate(basicHeader("alice", "secret")) {
		t.Error("removed user should no longer authenticate")
	}
}

func TestHashPasswordSalted(t *testing.T) {
	h1 := HashPassword("pw", "salt-a", 1000)
	h2 := HashPassword("pw", "salt-b", 1000)
	if string(h1) == string(h2) {
		t.Error("different salts should give different hashes")
	}
	if len(h1) != keyLength {
		t.Errorf("hash length = %d, want %d", len(h1), keyLength)
	}
	if string(h1) != string(HashPassword("pw", "salt-a", 1000)) {
		t.Error("HashPassword should be deterministic for the same inputs")
	}
}

func TestChallenge(t *testing.T) {
	a := fastAuthenticator(t, nil)
	if got := a.Challenge(); got != `Basic realm="Restricted Area"` {
		t.Errorf("Challenge() = %q", got)
	}
}

func TestGenerateCredentials(t *testing.T) {
	user, pass, err := GenerateCredentials()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(user, "user_") || len(user) != len("user_")+8 {
		t.Errorf("user = %q", user)
	}
	if len(pass) < 16 {
		t.Errorf("password %q too short", pass)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewRateLimiter(3, 30*time.Second)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		l.RecordFailure("10.0.0.1")
	}
	if l.Blocked("10.0.0.1") {
		t.Fatal("blocked after 2 of 3 failures")
	}
	l.RecordFailure("10.0.0.1")
	if !l.Blocked("10.0.0.1") {
		t.Fatal("not blocked after 3 failures")
	}
	if l.Blocked("10.0.0.2") {
		t.Error("other IPs must not be affected")
	}

	now = now.Add(31 * time.Second)
	if l.Blocked("10.0.0.1") {
		t.Error("still blocked after the window expired")
	}

	l.RecordFailure("10.0.0.3")
	l.Reset("10.0.0.3")
	if len(l.failures["10.0.0.3"]) != 0 {
		t.Error("Reset should clear failures")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	l := NewRateLimiter(0, 0)
	if l.MaxFailures != 5 || l.Window != 30*time.Second {
		t.Errorf("defaults = %d, %v", l.MaxFailures, l.Window)
	}
}

func TestGuard(t *testing.T) {
	g := &Guard{
		Authenticator: fastAuthenticator(t, map[string]string{"alice": "secret"}),
		Limiter:       NewRateLimiter(2, time.Minute),
	}
	ip := "192.0.2.7"

	if d := g.Authorize(ip, basicHeader("alice", "bad")); d != Deny {
		t.Errorf("first failure = %v, want deny", d)
	}
	if d := g.Authorize(ip, basicHeader("alice", "bad")); d != Deny {
		t.Errorf("second failure = %v, want deny", d)
	}
	if d := g.Authorize(ip, basicHeader("alice", "secret")); d != Throttled {
		t.Errorf("after limit = %v, want throttled even with good credentials", d)
	}

	other := "192.0.2.8"
	if d := g.Authorize(other, basicHeader("alice", "secret")); d != Allow {
		t.Errorf("good credentials = %v, want allow", d)
	}
	if g.Challenge() == "" {
		t.Error("Challenge() should not be empty")
	}
}

func TestDecisionString(t *testing.T) {
	for d, want := range map[Decision]string{Allow: "allow", Deny: "deny", Throttled: "throttled", Decision(9): "unknown"} {
		if got := d.String(); got != want {
			t.Errorf("Decision(%d).String() = %q, want %q", int(d), got, want)
		}
	}
}
