package api

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chartpilot/analysis-engine/internal/engine"
	"github.com/chartpilot/analysis-engine/internal/services"
	"github.com/chartpilot/analysis-engine/internal/utils"
)

// statusClientClosedRequest is the nginx convention for a caller that went away.
const statusClientClosedRequest = 499

type errorMapping struct {
	code   codes.Code
	status int
}

var reasonMappings = map[engine.Reason]errorMapping{
	engine.ReasonInsufficientContent: {codes.FailedPrecondition, http.StatusUnprocessableEntity},
	engine.ReasonQuotaExceeded:       {codes.ResourceExhausted, http.StatusTooManyRequests},
	engine.ReasonProviderUnavailable: {codes.Unavailable, http.StatusServiceUnavailable},
	engine.ReasonEmptyResponse:       {codes.Unavailable, http.StatusServiceUnavailable},
	engine.ReasonProviderRejected:    {codes.Aborted, http.StatusBadGateway},
	engine.ReasonInvalidInput:        {codes.InvalidArgument, http.StatusBadRequest},
	engine.ReasonCancelled:           {codes.Canceled, statusClientClosedRequest},
	engine.ReasonInternal:            {codes.Internal, http.StatusInternalServerError},
}

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Stage  string `json:"stage,omitempty"`
}

// classify maps err onto a transport code, HTTP status and public body.
// Provider text never reaches the caller, only the reason.
func classify(err error) (errorMapping, ErrorBody) {
	var stageErr *engine.StageError
	if errors.As(err, &stageErr) {
		mapping, ok := reasonMappings[stageErr.Reason]
		if !ok {
			mapping = reasonMappings[engine.ReasonInternal]
		}
		body := ErrorBody{Error: publicMessage(stageErr), Reason: string(stageErr.Reason), Stage: string(stageErr.Stage)}
		return mapping, body
	}

	switch {
	case errors.Is(err, services.ErrNotFound):
		return errorMapping{codes.NotFound, http.StatusNotFound}, ErrorBody{Error: "analysis not found"}
	case errors.Is(err, context.Canceled):
		return reasonMappings[engine.ReasonCancelled], ErrorBody{Error: "request cancelled", Reason: string(engine.ReasonCancelled)}
	}
	if msg, ok := utils.PublicMessage(err); ok {
		return reasonMappings[engine.ReasonInternal], ErrorBody{Error: msg}
	}
	return reasonMappings[engine.ReasonInternal], ErrorBody{Error: "internal error"}
}

func publicMessage(e *engine.StageError) string {
	switch e.Reason {
	case engine.ReasonInvalidInput, engine.ReasonQuotaExceeded, engine.ReasonInsufficientContent:
		if e.Err != nil {
			return e.Err.Error()
		}
		return string(e.Reason)
	case engine.ReasonProviderUnavailable:
		return "analysis provider is unavailable, try again later"
	case engine.ReasonEmptyResponse:
		return "analysis provider returned no analysis, try again later"
	case engine.ReasonProviderRejected:
		return "analysis provider rejected the request"
	case engine.ReasonCancelled:
		return "request cancelled"
	default:
		return "internal error"
	}
}

// grpcError converts err into a status error.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	var stageErr *engine.StageError
	if !errors.As(err, &stageErr) {
		if _, ok := status.FromError(err); ok {
			return err
		}
	}
	mapping, body := classify(err)
	return status.Error(mapping.code, body.Error)
}
