// Package breaker guards calls to the credential store with a circuit breaker.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"keygate.backend/pkg/logger"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// StateFunc is called on every transition with 0 closed, 1 half-open, 2 open.
type StateFunc func(name string, state int)

type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

type Settings struct {
	Name             string
	FailureThreshold int
	OpenTimeout      time.Duration
	// IsSuccessful classifies errors that must not count as failures.
	IsSuccessful  func(err error) bool
	OnStateChange StateFunc
}

// New creates a breaker that opens after FailureThreshold consecutive
// failures and tries again after OpenTimeout.
func New(s Settings) *Breaker {
	threshold := safeIntToUint32(s.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if s.OnStateChange != nil {
				s.OnStateChange(name, int(to))
			}
		},
	}
	if s.IsSuccessful != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || s.IsSuccessful(err)
		}
	}

	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn under the breaker. Rejections surface as ErrOpen.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrOpen
	}
	return res, err
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// StateName is State as "closed", "half-open" or "open".
func (b *Breaker) StateName() string {
	return b.cb.State().String()
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}
