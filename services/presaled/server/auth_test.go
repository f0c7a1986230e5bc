package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"tokensale/crypto"
)

func TestAuthenticateAcceptsIssuedToken(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: "secret", Issuer: "presaled", Audience: "buyers"}, nil)
	require.NoError(t, err)
	subject := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	token, err := IssueToken("secret", subject, "presaled", "buyers", time.Minute, time.Now())
	require.NoError(t, err)
	caller, err := auth.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, subject, caller)

	wrongIssuer, err := IssueToken("secret", subject, "elsewhere", "buyers", time.Minute, time.Now())
	require.NoError(t, err)
	_, err = auth.Authenticate(wrongIssuer)
	require.Error(t, err)

	wrongAudience, err := IssueToken("secret", subject, "presaled", "operators", time.Minute, time.Now())
	require.NoError(t, err)
	_, err = auth.Authenticate(wrongAudience)
	require.Error(t, err)
}

func TestAuthenticateRejectsExpiredAndUnboundedTokens(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: "secret", ClockSkew: time.Second}, nil)
	require.NoError(t, err)
	subject := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	expired, err := IssueToken("secret", subject, "", "", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = auth.Authenticate(expired)
	require.Error(t, err)

	unbounded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject.Hex()}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = auth.Authenticate(unbounded)
	require.Error(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject:   subject.Hex(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = auth.Authenticate(hs512)
	require.Error(t, err)
}

func TestAuthenticateAcceptsBech32Subject(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: "secret"}, nil)
	require.NoError(t, err)
	subject := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   crypto.SaleAddress(subject),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	caller, err := auth.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, subject, caller)

	garbage, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "not-an-address",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = auth.Authenticate(garbage)
	require.Error(t, err)
}

func TestMiddlewareStoresCaller(t *testing.T) {
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: "secret"}, nil)
	require.NoError(t, err)
	subject := common.HexToAddress("0x00000000000000000000000000000000000000dd")

	var seen common.Address
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		require.True(t, ok)
		seen = caller
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := IssueToken("secret", subject, "", "", time.Minute, time.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/redeem", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, subject, seen)

	req = httptest.NewRequest(http.MethodPost, "/v1/redeem", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{HMACSecret: "  "}, nil)
	require.Error(t, err)
	_, err = IssueToken("", common.Address{}, "", "", time.Minute, time.Now())
	require.Error(t, err)
}
