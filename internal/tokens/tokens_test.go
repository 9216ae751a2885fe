package tokens

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func b64(seg []byte) string {
	return base64.RawURLEncoding.EncodeToString(seg)
}

// signToken mimics what an external issuer would hand out.
func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func TestHS256Verifier_RoundTrip(t *testing.T) {
	const secret = "verifier-secret-32-bytes-xxxxxxxxxx"
	tokenStr := signToken(t, secret, jwt.MapClaims{
		"sub":  "u-verify",
		"name": "V",
		"role": "student",
		"exp":  time.Now().Add(2 * time.Minute).Unix(),
	})

	ver := NewHS256Verifier(secret)
	tok, err := ver.Verify(context.Background(), tokenStr)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	var claims map[string]interface{}
	if err := tok.Claims(&claims); err != nil {
		t.Fatalf("Claims error: %v", err)
	}
	if claims["sub"] != "u-verify" || claims["role"] != "student" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestHS256Verifier_WrongSecretFails(t *testing.T) {
	tokenStr := signToken(t, "secret-one-32-bytes-xxxxxxxxxxxxxxxx", jwt.MapClaims{
		"sub": "u3",
		"exp": time.Now().Add(2 * time.Minute).Unix(),
	})
	ver := NewHS256Verifier("different-secret-xxxxxxxxxxxxxxxx")
	if _, err := ver.Verify(context.Background(), tokenStr); err == nil {
		t.Fatalf("expected verify to fail with wrong secret")
	}
}

func TestHS256Verifier_ExpiredRejected(t *testing.T) {
	const secret = "another-secret-32-bytes-longgggg"
	tokenStr := signToken(t, secret, jwt.MapClaims{
		"sub": "u2",
		"exp": time.Now().Add(-1 * time.Minute).Unix(),
	})
	ver := NewHS256Verifier(secret)
	if _, err := ver.Verify(context.Background(), tokenStr); err == nil {
		t.Fatalf("expected verify to fail for expired token")
	}
}

// Rejected when alg=none (unsigned token)
func TestHS256Verifier_AlgNoneRejected(t *testing.T) {
	payload := `{"sub":"u-none","exp":9999999999}`
	tok := b64([]byte(`{"alg":"none","typ":"JWT"}`)) + "." + b64([]byte(payload)) + "."
	ver := NewHS256Verifier("x")
	if _, err := ver.Verify(context.Background(), tok); err == nil {
		t.Fatalf("expected verifier to reject alg=none token")
	}
}

// Tampering with payload must fail signature verification
func TestHS256Verifier_TamperedPayload(t *testing.T) {
	const secret = "tamper-test-secret-32-bytes-xxxxxxx"
	tokenStr := signToken(t, secret, jwt.MapClaims{
		"sub": "user-t",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token parts")
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	payloadStr := strings.Replace(string(payloadBytes), "user-t", "attacker", 1)
	parts[1] = b64([]byte(payloadStr))
	tampered := strings.Join(parts, ".")
	ver := NewHS256Verifier(secret)
	if _, err := ver.Verify(context.Background(), tampered); err == nil {
		t.Fatalf("expected signature verification to fail for tampered token")
	}
}
