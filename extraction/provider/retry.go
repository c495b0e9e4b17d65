package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// RetryPolicy bounds transport-level retries of rate-limit and server errors.
type RetryPolicy struct {
	// RateLimitWaits is the wait before each retry of a 429; its length is the retry count.
	RateLimitWaits []time.Duration
	// ServerErrorWaits is the wait before each retry of a 5xx.
	ServerErrorWaits []time.Duration
}

// DefaultRetryPolicy retries a rate limit after 20s and 40s, and a server error after
// 5s and 30s. Either schedule fits inside the default 120s call timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimitWaits:   []time.Duration{20 * time.Second, 40 * time.Second},
		ServerErrorWaits: []time.Duration{5 * time.Second, 30 * time.Second},
	}
}

type errorClass int

const (
	classPermanent errorClass = iota
	classRateLimit
	classServer
)

func classify(err error) errorClass {
	if err == nil {
		return classPermanent
	}
	if code := statusCode(err); code != 0 {
		switch {
		case code == http.StatusTooManyRequests:
			return classRateLimit
		case code >= 500:
			return classServer
		default:
			return classPermanent
		}
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "429"),
		strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "too many requests"):
		return classRateLimit
	case strings.Contains(errStr, "500"),
		strings.Contains(errStr, "internal server error"),
		strings.Contains(errStr, "server_error"),
		strings.Contains(errStr, "overloaded"):
		return classServer
	}
	return classPermanent
}

func statusCode(err error) int {
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode
	}
	return 0
}

// callWithRetry runs call until it succeeds, fails permanently, exhausts the policy, or
// ctx ends. Waits are abandoned as soon as ctx is done, and a wait that would outlast
// the ctx deadline is not started.
func callWithRetry[T any](ctx context.Context, policy RetryPolicy, log *zap.Logger, call func(context.Context) (T, error)) (T, error) {
	var zero T
	var rateLimited, serverFailed int
	for {
		out, err := call(ctx)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		var wait time.Duration
		switch classify(err) {
		case classRateLimit:
			if rateLimited >= len(policy.RateLimitWaits) {
				return zero, eris.Wrapf(err, "callWithRetry: rate limited after %d retries", rateLimited)
			}
			wait = policy.RateLimitWaits[rateLimited]
			rateLimited++
		case classServer:
			if serverFailed >= len(policy.ServerErrorWaits) {
				return zero, eris.Wrapf(err, "callWithRetry: server error after %d retries", serverFailed)
			}
			wait = policy.ServerErrorWaits[serverFailed]
			serverFailed++
		default:
			return zero, err
		}

		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return zero, eris.Wrapf(err, "callWithRetry: %s wait exceeds the call deadline", wait)
		}
		log.Debug("retrying extraction call", zap.Duration("wait", wait), zap.Error(err))
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
}
