package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/kjstillabower/weather-proxy/internal/client"
	"github.com/kjstillabower/weather-proxy/internal/models"
	"github.com/kjstillabower/weather-proxy/internal/resolver"
	"github.com/kjstillabower/weather-proxy/internal/validation"
)

// statusClientClosedRequest is written when the client disconnects before a response.
const statusClientClosedRequest = 499

type errorResponse struct {
	status  int
	code    string
	message string
}

// classifyError translates query errors into the public error envelope.
// Anything unrecognized is reported as an unavailable upstream.
func classifyError(err error) errorResponse {
	switch {
	case errors.Is(err, models.ErrInvalidUnits):
		return errorResponse{http.StatusBadRequest, "INVALID_UNITS", "units must be one of C, F or K"}
	case errors.Is(err, models.ErrInvalidKind):
		return errorResponse{http.StatusBadRequest, "INVALID_KIND", "kind must be current or forecast"}
	case errors.Is(err, validation.ErrInvalidLocation), errors.Is(err, resolver.ErrMalformedQuery):
		return errorResponse{http.StatusBadRequest, "INVALID_LOCATION", "location must be of the form City,CC"}
	case errors.Is(err, resolver.ErrUnknownLocation):
		return errorResponse{http.StatusNotFound, "UNKNOWN_LOCATION", "location not found"}
	case errors.Is(err, client.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return errorResponse{http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "weather provider timed out"}
	case errors.Is(err, client.ErrRateLimited):
		return errorResponse{http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMITED", "weather provider is rate limiting requests"}
	default:
		return errorResponse{http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"}
	}
}
