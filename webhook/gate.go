package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/engine"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/metrics"
	"github.com/mlodash/autoflow/model"
	"github.com/mlodash/autoflow/ratelimit"
	"github.com/mlodash/autoflow/signature"
	"go.uber.org/zap"
)

const DEFAULT_MAX_BODY_BYTES int64 = 256 * 1024

type Admitter interface {
	Allow(ctx context.Context, key string) ratelimit.Decision
}

type Verifier interface {
	Verify(body []byte, sig string, timestamp string, secret string) signature.Result
}

type Creator interface {
	Create(ctx context.Context, req engine.CreateRequest) (*model.Execution, error)
}

type TriggerRequest struct {
	WorkflowId string
	Body       []byte
	Signature  string
	Timestamp  string
	// Source identifies the caller for rate limiting, usually the remote address.
	Source string
}

type Admission struct {
	Decision  ratelimit.Decision
	Execution *model.Execution
}

// Gate admits inbound triggers. The checks run in a fixed order and each
// rejection stops the request before the next component sees it.
type Gate struct {
	maxBodyBytes int64
	limiter      Admitter
	verifier     Verifier
	secrets      signature.SecretProvider
	creator      Creator
}

func NewGate(maxBodyBytes int64, limiter Admitter, verifier Verifier, secrets signature.SecretProvider, creator Creator) *Gate {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DEFAULT_MAX_BODY_BYTES
	}
	return &Gate{
		maxBodyBytes: maxBodyBytes,
		limiter:      limiter,
		verifier:     verifier,
		secrets:      secrets,
		creator:      creator,
	}
}

func (g *Gate) MaxBodyBytes() int64 {
	return g.maxBodyBytes
}

func RateLimitKey(workflowId string, source string) string {
	return fmt.Sprintf("webhook:%s:%s", workflowId, source)
}

func (g *Gate) Admit(ctx context.Context, req TriggerRequest) (Admission, error) {
	var adm Admission
	if int64(len(req.Body)) > g.maxBodyBytes {
		metrics.RecordAdmission(ctx, metrics.ADMISSION_TOO_LARGE)
		return adm, api.PayloadTooLargeError{Limit: g.maxBodyBytes}
	}

	adm.Decision = g.limiter.Allow(ctx, RateLimitKey(req.WorkflowId, req.Source))
	if !adm.Decision.Allowed {
		metrics.RecordAdmission(ctx, metrics.ADMISSION_RATE_LIMITED)
		return adm, api.AdmissionError{
			Key:        adm.Decision.Key,
			Limit:      adm.Decision.Limit,
			ResetAt:    adm.Decision.ResetAt,
			RetryAfter: adm.Decision.RetryAfter,
		}
	}

	secret, err := g.secrets.SecretFor(ctx, req.WorkflowId)
	if err != nil {
		metrics.RecordAdmission(ctx, metrics.ADMISSION_INTERNAL_ERROR)
		return adm, err
	}
	if res := g.verifier.Verify(req.Body, req.Signature, req.Timestamp, secret); res != signature.ACCEPT {
		metrics.RecordAdmission(ctx, metrics.ADMISSION_UNAUTHENTICATED)
		logger.Warn("webhook rejected", zap.String("workflowId", req.WorkflowId), zap.String("source", req.Source), zap.String("result", string(res)))
		return adm, api.AuthenticationError{Reason: string(res)}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(req.Body, &obj); err != nil || obj == nil {
		metrics.RecordAdmission(ctx, metrics.ADMISSION_INVALID_PAYLOAD)
		return adm, api.InvalidPayloadError{Reason: "body should be a JSON object"}
	}

	exec, err := g.creator.Create(ctx, engine.CreateRequest{
		WorkflowId: req.WorkflowId,
		Trigger:    req.Body,
		Source:     engine.SOURCE_WEBHOOK,
	})
	if err != nil {
		switch err.(type) {
		case api.UnknownWorkflowError, api.WorkflowInactiveError:
			metrics.RecordAdmission(ctx, metrics.ADMISSION_UNKNOWN_WORKFLOW)
		default:
			metrics.RecordAdmission(ctx, metrics.ADMISSION_INTERNAL_ERROR)
		}
		return adm, err
	}
	metrics.RecordAdmission(ctx, metrics.ADMISSION_ACCEPTED)
	adm.Execution = exec
	return adm, nil
}
