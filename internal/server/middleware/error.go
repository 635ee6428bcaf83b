package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/calder-ai/modelgate/internal/llm"
	"github.com/calder-ai/modelgate/pkg/api"
)

const problemTypeBase = "https://modelgate.dev/problems/"

// statusFor maps the gateway error taxonomy onto HTTP status codes.
// Anything absent falls through to 500.
var statusFor = map[llm.ErrorType]int{
	llm.ErrorTypeConfiguration:      http.StatusBadRequest,
	llm.ErrorTypeModelNotFound:      http.StatusNotFound,
	llm.ErrorTypeModelNotDownloaded: http.StatusConflict,
	llm.ErrorTypeModelLoadFailed:    http.StatusInternalServerError,
	llm.ErrorTypeNotConnected:       http.StatusServiceUnavailable,
	llm.ErrorTypeConnectionFailed:   http.StatusBadGateway,
	llm.ErrorTypeRequestFailed:      http.StatusBadGateway,
	llm.ErrorTypeInvalidResponse:    http.StatusBadGateway,
	llm.ErrorTypeVisionNotSupported: http.StatusUnprocessableEntity,
	llm.ErrorTypeNetworkUnavailable: http.StatusBadGateway,
	llm.ErrorTypeTimeout:            http.StatusGatewayTimeout,
	llm.ErrorTypeServerUnavailable:  http.StatusServiceUnavailable,
	llm.ErrorTypeRateLimited:        http.StatusTooManyRequests,
	llm.ErrorTypeAuthentication:     http.StatusUnauthorized,
	llm.ErrorTypeMaxRetries:         http.StatusBadGateway,
}

var titleFor = map[llm.ErrorType]string{
	llm.ErrorTypeConfiguration:      "Invalid Configuration",
	llm.ErrorTypeModelNotFound:      "Model Not Found",
	llm.ErrorTypeModelNotDownloaded: "Model Not Downloaded",
	llm.ErrorTypeModelLoadFailed:    "Model Load Failed",
	llm.ErrorTypeNotConnected:       "Backend Not Connected",
	llm.ErrorTypeConnectionFailed:   "Connection Failed",
	llm.ErrorTypeRequestFailed:      "Upstream Request Failed",
	llm.ErrorTypeInvalidResponse:    "Invalid Upstream Response",
	llm.ErrorTypeVisionNotSupported: "Vision Not Supported",
	llm.ErrorTypeNetworkUnavailable: "Network Unavailable",
	llm.ErrorTypeTimeout:            "Request Timed Out",
	llm.ErrorTypeServerUnavailable:  "Server Unavailable",
	llm.ErrorTypeRateLimited:        "Rate Limited",
	llm.ErrorTypeAuthentication:     "Authentication Failed",
	llm.ErrorTypeMaxRetries:         "Retries Exhausted",
}

// ProblemFromError turns any error into an RFC 9457 problem. Gateway
// errors keep their taxonomy kind in the type URI; foreign errors
// become an opaque 500.
func ProblemFromError(err error) *api.Problem {
	var problem *api.Problem
	if errors.As(err, &problem) {
		return problem
	}

	kind := llm.TypeOf(err)
	status, known := statusFor[kind]
	if !known {
		return api.NewProblem(
			http.StatusInternalServerError,
			"Internal Server Error",
			"An unexpected error occurred.",
			api.WithLog(err),
		)
	}

	opts := []api.ProblemOption{
		api.WithType(problemTypeBase + string(kind)),
		api.WithExtension("error_type", string(kind)),
		api.WithLog(err),
	}
	if upstream := llm.StatusCodeOf(err); upstream != 0 {
		opts = append(opts, api.WithExtension("upstream_status", upstream))
	}

	return api.NewProblem(status, titleFor[kind], err.Error(), opts...)
}

// ErrorHandler renders errors attached by handlers as RFC 9457
// problem documents.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		problem := ProblemFromError(err)
		if problem.Instance == "" {
			problem.Instance = c.Request.URL.Path
		}
		if problem.Log != nil {
			logger.Error("Request failed",
				zap.String("path", c.Request.URL.Path),
				zap.Int("status", problem.Status),
				zap.Error(problem.Log))
		}

		// RFC 9457 dictates the json is at the root
		c.Header("Content-Type", "application/problem+json")
		c.JSON(problem.Status, problem)
		c.Abort()
	}
}
