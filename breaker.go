package fetchextra

import (
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// DefaultBreaker returns a circuit breaker suitable for WithBreaker:
// it opens after five consecutive transport failures, holds open for
// 30 seconds, then probes with up to three half-open requests.
//
// Only transport-level errors count as failures; responses — whatever
// their status — do not trip the breaker, since status handling is the
// validators' concern.
func DefaultBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
