package connectors

import (
	"github.com/Raoof128/ILAE/pkg/engine"
)

// Classified error constructors shared by connector implementations. The
// classes mirror how platform APIs actually fail: timeouts, rate limits, and
// outages come back; bad requests and missing permissions do not.

// TimeoutError classifies a connection or request timeout as transient.
func TimeoutError(err error) *engine.LifecycleError {
	return engine.NewTransientError("request timed out", err).WithCode(engine.ErrCodeTimeout)
}

// UnavailableError classifies a platform outage as transient.
func UnavailableError(err error) *engine.LifecycleError {
	return engine.NewTransientError("platform unavailable", err)
}

// RateLimitError classifies platform rate limiting as throttled.
func RateLimitError(err error) *engine.LifecycleError {
	return engine.NewThrottledError("rate limited by platform", err).WithCode(engine.ErrCodeRateLimited)
}

// PermissionError classifies a rejected credential or missing scope as
// permanent.
func PermissionError(err error) *engine.LifecycleError {
	return engine.NewPermanentError("permission denied by platform", err).WithCode(engine.ErrCodePermissionDenied)
}

// InvalidTargetError classifies a request the platform will never accept as
// permanent.
func InvalidTargetError(err error) *engine.LifecycleError {
	return engine.NewPermanentError("invalid target", err).WithCode(engine.ErrCodeValidation)
}
