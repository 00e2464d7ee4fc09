package rest

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	api "github.com/mlodash/autoflow/api/v1"
	"github.com/mlodash/autoflow/logger"
	"github.com/mlodash/autoflow/ratelimit"
	"github.com/mlodash/autoflow/webhook"
	"go.uber.org/zap"
)

const HEADER_SIGNATURE = "X-Webhook-Signature"
const HEADER_TIMESTAMP = "X-Webhook-Timestamp"

func (s *Server) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	wfId := mux.Vars(r)["workflowId"]
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, s.gate.MaxBodyBytes()+1))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, api.CATEGORY_INVALID_PAYLOAD, "could not read request body")
		return
	}

	adm, err := s.gate.Admit(r.Context(), webhook.TriggerRequest{
		WorkflowId: wfId,
		Body:       body,
		Signature:  r.Header.Get(HEADER_SIGNATURE),
		Timestamp:  r.Header.Get(HEADER_TIMESTAMP),
		Source:     remoteHost(r),
	})
	setRateLimitHeaders(w, adm.Decision)
	if err != nil {
		respondWithWebhookError(w, err)
		return
	}
	respondOK(w, map[string]any{"executionId": adm.Execution.Id, "status": adm.Execution.Status})
}

// respondWithWebhookError keeps callers to coarse categories: inactive and
// unknown workflows look the same and authentication failures carry no reason.
func respondWithWebhookError(w http.ResponseWriter, err error) {
	var (
		authErr   api.AuthenticationError
		admission api.AdmissionError
		tooLarge  api.PayloadTooLargeError
		invalid   api.InvalidPayloadError
		unknown   api.UnknownWorkflowError
		inactive  api.WorkflowInactiveError
	)
	switch {
	case errors.As(err, &authErr):
		respondWithError(w, http.StatusUnauthorized, api.CATEGORY_AUTHENTICATION, "request could not be authenticated")
	case errors.As(err, &admission):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(admission.RetryAfter.Seconds())))
		respondWithError(w, http.StatusTooManyRequests, api.CATEGORY_ADMISSION, "rate limit exceeded")
	case errors.As(err, &tooLarge):
		respondWithError(w, http.StatusRequestEntityTooLarge, api.CATEGORY_PAYLOAD_TOO_LARGE, tooLarge.Error())
	case errors.As(err, &invalid):
		respondWithError(w, http.StatusBadRequest, api.CATEGORY_INVALID_PAYLOAD, invalid.Error())
	case errors.As(err, &unknown), errors.As(err, &inactive):
		respondWithError(w, http.StatusNotFound, api.CATEGORY_UNKNOWN_WORKFLOW, "workflow not found")
	default:
		logger.Error("error admitting webhook", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func retryAfterSeconds(seconds float64) int {
	s := int(seconds)
	if float64(s) < seconds {
		s++
	}
	if s < 1 {
		s = 1
	}
	return s
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
