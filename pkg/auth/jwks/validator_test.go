package jwks

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/osvaldoandrade/ebookpdf/pkg/auth"
)

type jwksFixture struct {
	key     *rsa.PrivateKey
	server  *httptest.Server
	fetches atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	f := &jwksFixture{key: privKey}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		n := base64.RawURLEncoding.EncodeToString(privKey.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{"kty": "RSA", "kid": "test-key-1", "n": n, "e": e}},
		})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) validator(t *testing.T, skewSeconds int) *Validator {
	t.Helper()
	v, err := NewValidator(Config{
		JwksURL:            f.server.URL,
		Issuer:             "test-issuer",
		Audience:           "ebookpdf",
		ClockSkewSeconds:   skewSeconds,
		HTTPTimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return v
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestJWKSValidator(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator(t, 60)

	now := time.Now().Unix()
	token := signToken(t, f.key, "test-key-1", jwt.MapClaims{
		"iss":   "test-issuer",
		"aud":   "ebookpdf",
		"sub":   "test-user",
		"exp":   now + 3600,
		"iat":   now,
		"email": "reader@example.com",
		"scope": "convert history",
	})

	claims, err := v.Validate(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.Subject != "test-user" {
		t.Errorf("expected subject 'test-user', got '%s'", claims.Subject)
	}
	if claims.Email != "reader@example.com" {
		t.Errorf("expected email, got '%s'", claims.Email)
	}
	if claims.Issuer != "test-issuer" {
		t.Errorf("expected issuer 'test-issuer', got '%s'", claims.Issuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != "ebookpdf" {
		t.Errorf("expected audience ['ebookpdf'], got %v", claims.Audience)
	}
	if !claims.HasScope("convert") || !claims.HasScope("history") {
		t.Errorf("expected scopes, got %v", claims.Scopes)
	}
	if claims.ExpiresAt.Unix() != now+3600 {
		t.Errorf("unexpected expiry %v", claims.ExpiresAt)
	}

	if _, err := v.Validate(token); err != nil {
		t.Fatalf("second validation: %v", err)
	}
	if got := f.fetches.Load(); got != 1 {
		t.Errorf("expected JWKS to be fetched once, got %d", got)
	}
}

func TestJWKSValidatorRejects(t *testing.T) {
	f := newJWKSFixture(t)
	now := time.Now().Unix()

	tests := []struct {
		name   string
		kid    string
		claims jwt.MapClaims
	}{
		{"wrong issuer", "test-key-1", jwt.MapClaims{"iss": "other", "aud": "ebookpdf", "exp": now + 3600}},
		{"wrong audience", "test-key-1", jwt.MapClaims{"iss": "test-issuer", "aud": "other", "exp": now + 3600}},
		{"expired", "test-key-1", jwt.MapClaims{"iss": "test-issuer", "aud": "ebookpdf", "exp": now - 3600}},
		{"no expiry", "test-key-1", jwt.MapClaims{"iss": "test-issuer", "aud": "ebookpdf"}},
		{"unknown kid", "nope", jwt.MapClaims{"iss": "test-issuer", "aud": "ebookpdf", "exp": now + 3600}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := f.validator(t, 1)
			if _, err := v.Validate(signToken(t, f.key, tt.kid, tt.claims)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestJWKSValidatorRejectsHMAC(t *testing.T) {
	f := newJWKSFixture(t)
	v := f.validator(t, 0)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "test-issuer", "aud": "ebookpdf", "exp": time.Now().Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "test-key-1"
	s, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := v.Validate(s); err == nil {
		t.Fatal("expected HS256 token to be rejected")
	}
}

func TestNewValidatorFromJSON(t *testing.T) {
	if _, err := NewValidatorFromJSON(json.RawMessage(`{"jwksUrl":"http://x","issuer":"i"}`)); err == nil {
		t.Fatal("expected error without audience")
	}
	v, err := auth.NewValidator(auth.ProviderConfig{
		Type:   "jwks",
		Config: json.RawMessage(`{"jwksUrl":"http://x","issuer":"i","audience":"a"}`),
	})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if _, ok := v.(*Validator); !ok {
		t.Fatalf("unexpected validator type %T", v)
	}
}
