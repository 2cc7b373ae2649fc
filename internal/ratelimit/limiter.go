// Package ratelimit throttles write traffic per client key.
package ratelimit

import "context"

// Limiter reports whether one more request for key fits the quota.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

// AllowAll never throttles. Used when rate limiting is disabled.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, string) bool { return true }
