package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	procuraerrors "procura/internal/errors"
	"procura/internal/logging"

	"github.com/kaptinlin/jsonrepair"
)

// wrapRequestError classifies transport-level failures so callers can decide
// whether a retry at their layer makes sense.
func wrapRequestError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if procuraerrors.IsTransient(err) {
		return procuraerrors.NewTransientError(err, "generation backend unreachable: "+err.Error())
	}
	return err
}

// mapHTTPError converts a non-2xx backend response into a classified error.
func mapHTTPError(statusCode int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	base := fmt.Errorf("API error %d: %s", statusCode, msg)
	if procuraerrors.IsTransientHTTPStatus(statusCode) {
		return &procuraerrors.TransientError{Err: base, StatusCode: statusCode}
	}
	return &procuraerrors.PermanentError{Err: base, StatusCode: statusCode}
}

// parseToolArguments decodes a tool call's raw argument JSON, attempting a
// jsonrepair pass before giving up with empty arguments. Malformed arguments
// never fail the turn.
func parseToolArguments(raw string, logger logging.Logger) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}

	fixed, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		logging.OrNop(logger).Warn("tool arguments unrecoverable: %v", err)
		return map[string]any{}
	}
	if err := json.Unmarshal([]byte(fixed), &args); err != nil {
		logging.OrNop(logger).Warn("repaired tool arguments still invalid: %v", err)
		return map[string]any{}
	}
	return args
}
