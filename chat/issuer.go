package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Signer is the signing capability of the active identity, used during the
// challenge/response exchange with the auth service.
type Signer interface {
	// Address returns the identity's address, or "" when no identity is
	// available.
	Address() string
	// Sign produces a signature over the challenge message.
	Sign(ctx context.Context, message string) (string, error)
}

// Issuer mints fresh credentials against an external auth service: it
// fetches a single-use challenge, has the identity sign it, and submits the
// result for verification.
type Issuer struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger
}

// NewIssuer creates an issuer for the auth service at baseURL.
func NewIssuer(baseURL string, httpClient *http.Client, logger *zap.SugaredLogger) *Issuer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Issuer{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

type nonceResponse struct {
	Message string `json:"message"`
}

type verifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
}

type verifyResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // unix milliseconds, may be absent
}

// Issue performs the challenge/response exchange for the signer's identity.
// Every failure mode is a returned error; callers treat it as "cannot
// authenticate right now".
func (i *Issuer) Issue(ctx context.Context, signer Signer) (*Credential, error) {
	address := signer.Address()
	if address == "" {
		return nil, ErrNoIdentity
	}

	var nonce nonceResponse
	if err := i.get(ctx, "/auth/nonce", &nonce); err != nil {
		return nil, fmt.Errorf("fetch challenge: %w", err)
	}
	if nonce.Message == "" {
		return nil, fmt.Errorf("auth service returned an empty challenge")
	}

	signature, err := signer.Sign(ctx, nonce.Message)
	if err != nil {
		return nil, fmt.Errorf("sign challenge: %w", err)
	}

	var verified verifyResponse
	req := verifyRequest{Address: address, Signature: signature, Nonce: nonce.Message}
	if err := i.post(ctx, "/auth/verify", req, &verified); err != nil {
		return nil, fmt.Errorf("verify signature: %w", err)
	}
	if verified.Token == "" {
		return nil, fmt.Errorf("auth service returned an empty token")
	}

	cred := &Credential{
		Token:   verified.Token,
		Address: address,
	}
	if verified.ExpiresAt > 0 {
		cred.ExpiresAt = time.UnixMilli(verified.ExpiresAt)
	} else {
		cred.ExpiresAt = tokenExpiry(verified.Token, time.Now())
	}

	i.logger.Debugw("credential issued", "address", address, "expiresAt", cred.ExpiresAt)
	return cred, nil
}

func (i *Issuer) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.baseURL+path, nil)
	if err != nil {
		return err
	}
	return i.do(req, out)
}

func (i *Issuer) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return i.do(req, out)
}

func (i *Issuer) do(req *http.Request, out interface{}) error {
	resp, err := i.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(body, &errResp)
		if errResp.Error != "" {
			return fmt.Errorf("auth service error %d: %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("auth service error %d", resp.StatusCode)
	}

	return json.Unmarshal(body, out)
}
