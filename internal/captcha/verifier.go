package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultVerifyURL is the hCaptcha server-side verification endpoint.
const DefaultVerifyURL = "https://hcaptcha.com/siteverify"

// Config holds captcha verification settings.
type Config struct {
	Secret    string
	VerifyURL string
	Timeout   time.Duration
}

// Verifier checks client captcha tokens against the verification service.
type Verifier struct {
	secret    string
	verifyURL string
	client    *http.Client
	logger    *zap.Logger
}

// NewVerifier creates a captcha verifier.
func NewVerifier(cfg Config, logger *zap.Logger) *Verifier {
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = DefaultVerifyURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Verifier{
		secret:    cfg.Secret,
		verifyURL: cfg.VerifyURL,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

// Verify reports whether the token passes verification. A service error is
// returned separately but callers treat both a false result and an error as
// rejection.
func (v *Verifier) Verify(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Error("Captcha verification request failed", zap.Error(err))
		return false, fmt.Errorf("verify captcha: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		v.logger.Error("Captcha verification response unreadable", zap.Error(err))
		return false, fmt.Errorf("decode verification response: %w", err)
	}

	if !result.Success {
		v.logger.Warn("Captcha verification rejected token")
	}
	return result.Success, nil
}
