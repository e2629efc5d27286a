package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuerHappyPath(t *testing.T) {
	expiresAt := time.Now().Add(time.Hour).UnixMilli()

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/nonce", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(map[string]string{"message": "challenge-42"})
	})
	mux.HandleFunc("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xABC", req.Address)
		assert.Equal(t, "signed(challenge-42)", req.Signature)
		assert.Equal(t, "challenge-42", req.Nonce)
		json.NewEncoder(w).Encode(map[string]interface{}{"token": "tok", "expiresAt": expiresAt})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	issuer := NewIssuer(srv.URL, nil, nil)
	cred, err := issuer.Issue(context.Background(), &fakeSigner{addr: "0xABC", sig: "signed(challenge-42)"})
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.Token)
	assert.Equal(t, "0xABC", cred.Address)
	assert.Equal(t, time.UnixMilli(expiresAt), cred.ExpiresAt)
}

func TestIssuerVerifyRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/nonce", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message": "challenge"})
	})
	mux.HandleFunc("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "bad signature"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	issuer := NewIssuer(srv.URL, nil, nil)
	_, err := issuer.Issue(context.Background(), &fakeSigner{addr: "0xABC", sig: "wrong"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad signature")
}

func TestIssuerSignerFailureIsSoft(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/nonce", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message": "challenge"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	issuer := NewIssuer(srv.URL, nil, nil)
	_, err := issuer.Issue(context.Background(), &fakeSigner{addr: "0xABC", err: errors.New("wallet locked")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet locked")
}

func TestIssuerUnreachableService(t *testing.T) {
	issuer := NewIssuer("http://127.0.0.1:1", &http.Client{Timeout: 200 * time.Millisecond}, nil)
	_, err := issuer.Issue(context.Background(), &fakeSigner{addr: "0xABC", sig: "sig"})
	assert.Error(t, err)
}

func TestIssuerNoIdentity(t *testing.T) {
	issuer := NewIssuer("http://example.invalid", nil, nil)
	_, err := issuer.Issue(context.Background(), &fakeSigner{addr: ""})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestIssuerMissingExpiryFallsBackToTTL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/nonce", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"message": "challenge"})
	})
	mux.HandleFunc("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "opaque-token"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	issuer := NewIssuer(srv.URL, nil, nil)
	cred, err := issuer.Issue(context.Background(), &fakeSigner{addr: "0xABC", sig: "sig"})
	require.NoError(t, err)
	assert.True(t, cred.ExpiresAt.After(time.Now().Add(defaultCredentialTTL-time.Minute)))
}
