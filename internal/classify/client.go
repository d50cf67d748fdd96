package classify

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/NICxKMS/chat-gateway/internal/apperr"
	"github.com/NICxKMS/chat-gateway/internal/breaker"
)

const (
	classifyMethod         = "/classification.Classifier/ClassifyModels"
	classifyCriteriaMethod = "/classification.Classifier/ClassifyModelsWithCriteria"

	classifyDeadline         = 15 * time.Second
	classifyCriteriaDeadline = 10 * time.Second
	classifyMaxAttempts      = 3
	classifyCriteriaAttempts = 2

	backoffBase = 500 * time.Millisecond
	backoffCap  = 5000 * time.Millisecond
	jitterMax   = 200 * time.Millisecond
)

// Options configures the classification client.
type Options struct {
	Host string
	Port int
	// TLS selects TLS transport credentials instead of the default
	// plaintext channel, for deployments that terminate gRPC over an
	// encrypted connection.
	TLS         bool
	Credentials credentials.TransportCredentials
}

// Client wraps a gRPC connection to the external classification service.
// Every RPC is wrapped in retry/backoff over transient errors and a
// dedicated circuit breaker, per the resilience rules each call enforces.
type Client struct {
	conn    *grpc.ClientConn
	br      *breaker.Breaker
	enabled bool
}

// NewClient dials the classification service. The connection is lazy
// (gRPC connects on first RPC), so Dial itself never blocks on network
// availability — the circuit breaker and retry loop are what protect
// callers once traffic actually starts.
func NewClient(opts Options) (*Client, error) {
	target := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	creds := insecure.NewCredentials()
	if opts.TLS {
		if opts.Credentials == nil {
			return nil, fmt.Errorf("classify: TLS enabled but no credentials provided")
		}
		creds = opts.Credentials
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("classify: dialing %s: %w", target, err)
	}

	return &Client{
		conn:    conn,
		br:      breaker.New("classification", breaker.Options{FailureThreshold: 3, ResetTimeout: 30 * time.Second}),
		enabled: true,
	}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// ClassifyModels classifies a flattened model list. ctx's own deadline, if
// sooner than the per-call deadline, is respected via context.WithTimeout's
// min-of-both semantics.
func (c *Client) ClassifyModels(ctx context.Context, req LoadedModelList) (*ClassifiedModelResponse, error) {
	var resp ClassifiedModelResponse
	err := c.call(ctx, classifyMethod, classifyDeadline, classifyMaxAttempts, &req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClassifyModelsWithCriteria classifies using caller-supplied filter
// criteria instead of the full model list.
func (c *Client) ClassifyModelsWithCriteria(ctx context.Context, criteria ClassificationCriteria) (*ClassifiedModelResponse, error) {
	var resp ClassifiedModelResponse
	err := c.call(ctx, classifyCriteriaMethod, classifyCriteriaDeadline, classifyCriteriaAttempts, &criteria, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// call runs one RPC through the circuit breaker, retrying up to
// maxAttempts times on transient gRPC errors (Unavailable,
// DeadlineExceeded) with exponential backoff plus jitter.
func (c *Client) call(ctx context.Context, method string, deadline time.Duration, maxAttempts int, req, resp any) error {
	result, err := c.br.Execute(func() (any, error) {
		var lastErr error
		for attempt := 0; attempt < maxAttempts; attempt++ {
			if attempt > 0 {
				if sleepErr := sleepBackoff(ctx, attempt); sleepErr != nil {
					return nil, sleepErr
				}
			}

			callCtx, cancel := context.WithTimeout(ctx, deadline)
			invokeErr := c.conn.Invoke(callCtx, method, req, resp)
			cancel()

			if invokeErr == nil {
				return resp, nil
			}
			lastErr = invokeErr

			if !isTransient(invokeErr) {
				return nil, invokeErr
			}
		}
		return nil, lastErr
	})
	if err != nil {
		if apperrErr, ok := apperr.As(err); ok {
			return apperrErr
		}
		return apperr.ProviderError("classification", fmt.Sprintf("calling %s", method), err)
	}
	_ = result
	return nil
}

// isTransient reports whether a gRPC error is one this client retries:
// Unavailable (connection-level) or DeadlineExceeded (the peer was too
// slow). Every other code — including InvalidArgument, PermissionDenied,
// NotFound — is treated as permanent and surfaced immediately.
func isTransient(err error) bool {
	code := status.Code(err)
	return code == codes.Unavailable || code == codes.DeadlineExceeded
}

// sleepBackoff waits min(2^attempt * backoffBase + jitter[0,200ms), backoffCap)
// before the next retry, honoring ctx cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	wait := backoffBase*time.Duration(1<<uint(attempt)) + time.Duration(rand.Int63n(int64(jitterMax)))
	if wait > backoffCap {
		wait = backoffCap
	}

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
