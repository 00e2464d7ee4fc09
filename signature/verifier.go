package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

type Result string

const ACCEPT Result = "ACCEPT"
const MISSING_SIGNATURE Result = "MISSING_SIGNATURE"
const INVALID_SIGNATURE Result = "INVALID_SIGNATURE"
const STALE_TIMESTAMP Result = "STALE_TIMESTAMP"
const FUTURE_TIMESTAMP Result = "FUTURE_TIMESTAMP"

const SIGNATURE_PREFIX = "sha256="

const DEFAULT_MAX_SKEW = 5 * time.Minute

type Verifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
}

func NewVerifier(maxSkew time.Duration) *Verifier {
	if maxSkew <= 0 {
		maxSkew = DEFAULT_MAX_SKEW
	}
	return &Verifier{
		MaxSkew: maxSkew,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Verify authenticates body against an HMAC-SHA256 of timestamp||body.
// The body must be the exact bytes received on the wire.
func (v *Verifier) Verify(body []byte, signature string, timestamp string, secret string) Result {
	signature = strings.TrimSpace(signature)
	timestamp = strings.TrimSpace(timestamp)
	if signature == "" || timestamp == "" {
		return MISSING_SIGNATURE
	}
	if secret == "" {
		return INVALID_SIGNATURE
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return INVALID_SIGNATURE
	}
	now := v.Now()
	sent := time.Unix(ts, 0)
	if sent.Before(now.Add(-v.MaxSkew)) {
		return STALE_TIMESTAMP
	}
	if sent.After(now.Add(v.MaxSkew)) {
		return FUTURE_TIMESTAMP
	}

	// compared in encoded form so only the canonical lowercase hex matches
	got := strings.TrimPrefix(signature, SIGNATURE_PREFIX)
	if !hmac.Equal([]byte(got), []byte(Sign(body, timestamp, secret))) {
		return INVALID_SIGNATURE
	}
	return ACCEPT
}

// Sign returns the hex signature a trusted sender attaches to body.
func Sign(body []byte, timestamp string, secret string) string {
	return hex.EncodeToString(computeMAC(body, timestamp, secret))
}

func computeMAC(body []byte, timestamp string, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

type SecretProvider interface {
	SecretFor(ctx context.Context, workflowId string) (string, error)
}

// StaticSecrets serves a process-wide secret with optional per-workflow overrides.
type StaticSecrets struct {
	Default     string
	PerWorkflow map[string]string
}

var _ SecretProvider = new(StaticSecrets)

func (s *StaticSecrets) SecretFor(_ context.Context, workflowId string) (string, error) {
	if secret, ok := s.PerWorkflow[workflowId]; ok && secret != "" {
		return secret, nil
	}
	return s.Default, nil
}
