package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Gate spaces out download starts across all workers.
type Gate interface {
	Wait(ctx context.Context) error
}

// RateGate lets one download start per pacing interval. The first start is
// immediate. A zero interval disables pacing.
type RateGate struct {
	limiter *rate.Limiter
}

// NewRateGate creates a gate releasing one caller every interval.
func NewRateGate(interval time.Duration) *RateGate {
	if interval <= 0 {
		return &RateGate{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateGate{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the caller may start a download or ctx is done.
func (g *RateGate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
