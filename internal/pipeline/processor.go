package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-push-service/internal/metrics"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
	"golang.org/x/sync/errgroup"
)

// DefaultProviderTimeout bounds a single adapter call.
const DefaultProviderTimeout = 5 * time.Second

// Coordinator handles the "Fan-Out": one concurrent adapter call per platform
// present in the request, then a merge back into request order.
type Coordinator struct {
	registry dispatch.Registry
	timeout  time.Duration
	metrics  *metrics.Recorder
	logger   *slog.Logger
	newID    func() string
}

// NewCoordinator creates the fan-out logic over the registered adapters.
// A nil recorder disables metrics.
func NewCoordinator(registry dispatch.Registry, timeout time.Duration, recorder *metrics.Recorder, logger *slog.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &Coordinator{
		registry: registry,
		timeout:  timeout,
		metrics:  recorder,
		logger:   logger.With("component", "Coordinator"),
		newID:    uuid.NewString,
	}
}

// Dispatch routes the request, invokes every platform adapter concurrently and
// aggregates one outcome per token in input order. Provider failures are part
// of the result; the error is reserved for internal faults.
func (c *Coordinator) Dispatch(ctx context.Context, req *dispatch.NotificationRequest) (*dispatch.DispatchResult, error) {
	start := time.Now()
	dispatchID := c.newID()
	procLogger := c.logger.With("dispatch_id", dispatchID, "user_id", req.UserID)

	// 1. Route
	groups, unsupported := Route(req.DeviceTokens, func(p dispatch.Platform) bool {
		_, ok := c.registry.Lookup(p)
		return ok
	})
	if len(unsupported) > 0 {
		procLogger.Warn("Tokens for unsupported platforms", "count", len(unsupported))
	}

	// 2. Fan-Out. Each goroutine owns its slot; merging happens after the join.
	n := req.Notification()
	perGroup := make([][]dispatch.DeliveryOutcome, len(groups))
	g := new(errgroup.Group)
	for i, group := range groups {
		g.Go(func() error {
			perGroup[i] = c.invoke(ctx, procLogger, group, n)
			return nil
		})
	}
	_ = g.Wait()

	// 3. Fan-In
	merged := make([]*dispatch.DeliveryOutcome, len(req.DeviceTokens))
	for _, u := range unsupported {
		merged[u.Index] = &u.Outcome
	}
	for i, group := range groups {
		if len(perGroup[i]) != len(group.Index) {
			procLogger.Error("Adapter broke the outcome contract",
				"platform", group.Platform, "expected", len(group.Index), "got", len(perGroup[i]))
			return nil, fmt.Errorf("%w: %s adapter returned %d outcomes for %d tokens",
				dispatch.ErrInternal, group.Platform, len(perGroup[i]), len(group.Index))
		}
		for j, idx := range group.Index {
			merged[idx] = &perGroup[i][j]
		}
	}

	result := &dispatch.DispatchResult{
		DispatchID: dispatchID,
		Outcomes:   make([]dispatch.DeliveryOutcome, len(merged)),
	}
	for i, o := range merged {
		if o == nil {
			return nil, fmt.Errorf("%w: no outcome for token at index %d", dispatch.ErrInternal, i)
		}
		result.Outcomes[i] = *o
		c.metrics.ObserveDelivery(string(o.Platform), string(o.Status))
	}
	result.OverallSuccess = dispatch.AnySent(result.Outcomes)

	// 4. Summary (never the tokens themselves)
	elapsed := time.Since(start)
	c.metrics.ObserveDispatch(elapsed)
	sent, failed := result.Counts()
	attrs := []any{"sent", sent, "failed", failed, "unsupported", len(unsupported), "duration_ms", elapsed.Milliseconds()}
	for _, group := range groups {
		attrs = append(attrs, string(group.Platform), len(group.Tokens))
	}
	procLogger.Info("Dispatch complete", attrs...)

	return result, nil
}

// invoke runs one adapter call under its own deadline. The caller's cancellation
// is not inherited: once started, provider calls run to completion or to the timeout.
func (c *Coordinator) invoke(ctx context.Context, logger *slog.Logger, group Group, n dispatch.Notification) []dispatch.DeliveryOutcome {
	adapter, _ := c.registry.Lookup(group.Platform)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan []dispatch.DeliveryOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Adapter panicked", "platform", group.Platform, "panic", fmt.Sprint(r))
				done <- dispatch.FailAll(group.Tokens, group.Platform, fmt.Errorf("%w: adapter panic", dispatch.ErrInternal))
			}
		}()
		done <- adapter.Send(callCtx, group.Tokens, n)
	}()

	select {
	case out := <-done:
		c.metrics.ObserveProviderCall(string(group.Platform), time.Since(start), false)
		return out
	case <-callCtx.Done():
		// The adapter ignored its deadline; abandon it. done is buffered so it can still finish.
		c.metrics.ObserveProviderCall(string(group.Platform), time.Since(start), true)
		logger.Warn("Provider call timed out", "platform", group.Platform, "tokens", len(group.Tokens), "timeout", c.timeout)
		return dispatch.FailAll(group.Tokens, group.Platform,
			fmt.Errorf("%w: %w", dispatch.ErrProviderTransport, dispatch.ErrProviderTimeout))
	}
}
