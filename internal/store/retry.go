/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meal-ledger-go/internal/models"

	"go.uber.org/zap"
)

var _ Gateway = (*Retrying)(nil)
var _ Getter = (*Retrying)(nil)

// RetryPolicy bounds how hard a gateway call is retried.
type RetryPolicy struct {
	MaxAttempts int
	Wait        time.Duration
	MaxWait     time.Duration
	CallTimeout time.Duration
}

// Retrying decorates a Gateway: each call gets a hard timeout and calls failing with
// ErrGatewayUnavailable are retried with exponential backoff up to MaxAttempts.
// Create is not idempotent, so a create whose timeout fired is reported as
// ErrWriteUncertain and never re-issued.
type Retrying struct {
	next   Gateway
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRetrying(next Gateway, policy RetryPolicy) *Retrying {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Wait <= 0 {
		policy.Wait = 500 * time.Millisecond
	}
	if policy.MaxWait < policy.Wait {
		policy.MaxWait = policy.Wait
	}
	return &Retrying{next: next, policy: policy, sleep: sleepContext}
}

func (r *Retrying) ListAll(ctx context.Context, collection string) ([]models.Record, error) {
	var out []models.Record
	err := r.do(ctx, "list", collection, func(ctx context.Context) error {
		var err error
		out, err = r.next.ListAll(ctx, collection)
		return err
	})
	return out, err
}

func (r *Retrying) Get(ctx context.Context, collection, id string) (*models.Record, error) {
	var out *models.Record
	err := r.do(ctx, "get", collection, func(ctx context.Context) error {
		var err error
		out, err = Get(ctx, r.next, collection, id)
		return err
	})
	return out, err
}

func (r *Retrying) Create(ctx context.Context, collection string, fields map[string]any) (*models.Record, error) {
	var out *models.Record
	err := r.do(ctx, "create", collection, func(ctx context.Context) error {
		var err error
		out, err = r.next.Create(ctx, collection, fields)
		return err
	})
	return out, err
}

func (r *Retrying) Update(ctx context.Context, collection, id string, fields map[string]any) (*models.Record, error) {
	var out *models.Record
	err := r.do(ctx, "update", collection, func(ctx context.Context) error {
		var err error
		out, err = r.next.Update(ctx, collection, id, fields)
		return err
	})
	return out, err
}

func (r *Retrying) Delete(ctx context.Context, collection, id string) error {
	return r.do(ctx, "delete", collection, func(ctx context.Context) error {
		return r.next.Delete(ctx, collection, id)
	})
}

func (r *Retrying) do(ctx context.Context, op, collection string, call func(ctx context.Context) error) error {
	wait := r.policy.Wait
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		lastErr = r.attempt(ctx, op, call)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrWriteUncertain) {
			zap.L().Error("Gateway write outcome unknown, not retrying",
				zap.String("op", op),
				zap.String("collection", collection),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			return fmt.Errorf("%s %s: %w", op, collection, lastErr)
		}
		if !errors.Is(lastErr, ErrGatewayUnavailable) {
			return lastErr
		}
		if attempt == r.policy.MaxAttempts {
			break
		}

		zap.L().Warn("Gateway call failed, retrying",
			zap.String("op", op),
			zap.String("collection", collection),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(lastErr))

		if err := r.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%s %s: %w", op, collection, err)
		}
		wait *= 2
		if wait > r.policy.MaxWait {
			wait = r.policy.MaxWait
		}
	}

	zap.L().Error("Gateway call failed after retries",
		zap.String("op", op),
		zap.String("collection", collection),
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr))
	return fmt.Errorf("%s %s after %d attempts: %w", op, collection, r.policy.MaxAttempts, lastErr)
}

func (r *Retrying) attempt(ctx context.Context, op string, call func(ctx context.Context) error) error {
	if r.policy.CallTimeout <= 0 {
		return call(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.policy.CallTimeout)
	defer cancel()

	err := call(callCtx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// the per-call deadline fired, not the caller's
		if op == "create" {
			return fmt.Errorf("call timed out after %v: %w", r.policy.CallTimeout, ErrWriteUncertain)
		}
		return fmt.Errorf("call timed out after %v: %w", r.policy.CallTimeout, ErrGatewayUnavailable)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
