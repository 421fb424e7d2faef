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

package tablestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"syscall"

	"meal-ledger-go/internal/models"
	"meal-ledger-go/internal/store"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var _ store.Gateway = (*Client)(nil)
var _ store.Getter = (*Client)(nil)

const (
	defaultPageSize = 100
	opCreate        = "create"
)

// listResponse is one page of a collection listing; Offset is empty on the last page.
type listResponse struct {
	Records []models.Record `json:"records"`
	Offset  string          `json:"offset,omitempty"`
}

type writeRequest struct {
	Fields map[string]any `json:"fields"`
}

type deleteResponse struct {
	Id      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client is the record store gateway for the hosted table service.
// Rate limiting (429) and server errors are retried by resty and then reported
// as store.ErrGatewayUnavailable. Creates are only retried when the service cannot
// have stored them; other create failures are reported as store.ErrWriteUncertain.
type Client struct {
	httpClient *resty.Client
	pageSize   int
}

// NewClient creates a table service client scoped to one base
func NewClient(cfg models.GatewayConfig) (*Client, error) {
	if cfg.BaseURL == "" || cfg.BaseId == "" {
		return nil, fmt.Errorf("table service requires a base URL and base id")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("table service requires an API key")
	}
	pageSize := cfg.RemotePageSize
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.CallTimeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		SetAuthToken(cfg.APIKey).
		SetPathParam("base", cfg.BaseId).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{httpClient: httpClient, pageSize: pageSize}, nil
}

func transient(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// retryReplayable retries reads, patches and deletes on any transport failure or transient status
func retryReplayable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	return transient(resp.StatusCode())
}

// retryCreate retries a POST only when the service cannot have stored it
func retryCreate(resp *resty.Response, err error) bool {
	if err != nil {
		return refused(err)
	}
	return resp.StatusCode() == http.StatusTooManyRequests
}

// refused reports a connection that was never established, so no request body was sent
func refused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.httpClient.R().SetContext(ctx).AddRetryCondition(retryReplayable)
}

// ListAll follows offsets until the collection is exhausted
func (c *Client) ListAll(ctx context.Context, collection string) ([]models.Record, error) {
	var all []models.Record
	offset := ""
	for page := 1; ; page++ {
		var body listResponse
		req := c.request(ctx).
			SetPathParam("collection", collection).
			SetQueryParam("pageSize", strconv.Itoa(c.pageSize)).
			SetResult(&body)
		if offset != "" {
			req.SetQueryParam("offset", offset)
		}

		resp, err := req.Get("/v0/{base}/{collection}")
		if err := checkResponse(ctx, "list", collection, resp, err); err != nil {
			return nil, err
		}

		all = append(all, body.Records...)
		zap.L().Debug("Fetched collection page",
			zap.String("collection", collection),
			zap.Int("page", page),
			zap.Int("count", len(body.Records)))

		if body.Offset == "" {
			return all, nil
		}
		offset = body.Offset
	}
}

func (c *Client) Get(ctx context.Context, collection, id string) (*models.Record, error) {
	var rec models.Record
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"collection": collection, "id": id}).
		SetResult(&rec).
		Get("/v0/{base}/{collection}/{id}")
	if err := checkResponse(ctx, "get", collection, resp, err); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Create(ctx context.Context, collection string, fields map[string]any) (*models.Record, error) {
	var rec models.Record
	resp, err := c.httpClient.R().
		SetContext(ctx).
		AddRetryCondition(retryCreate).
		SetPathParam("collection", collection).
		SetBody(writeRequest{Fields: fields}).
		SetResult(&rec).
		Post("/v0/{base}/{collection}")
	if err := checkResponse(ctx, opCreate, collection, resp, err); err != nil {
		return nil, err
	}

	zap.L().Info("Record created",
		zap.String("collection", collection),
		zap.String("record_id", rec.Id))
	return &rec, nil
}

// Update patches the given fields; a nil value clears the field
func (c *Client) Update(ctx context.Context, collection, id string, fields map[string]any) (*models.Record, error) {
	var rec models.Record
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"collection": collection, "id": id}).
		SetBody(writeRequest{Fields: fields}).
		SetResult(&rec).
		Patch("/v0/{base}/{collection}/{id}")
	if err := checkResponse(ctx, "update", collection, resp, err); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	var body deleteResponse
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"collection": collection, "id": id}).
		SetResult(&body).
		Delete("/v0/{base}/{collection}/{id}")
	if err := checkResponse(ctx, "delete", collection, resp, err); err != nil {
		return err
	}
	if !body.Deleted {
		return fmt.Errorf("table service did not confirm deletion of %s/%s", collection, id)
	}
	return nil
}

// checkResponse maps transport failures and error statuses onto store sentinels
func checkResponse(ctx context.Context, op, collection string, resp *resty.Response, err error) error {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		zap.L().Warn("Table service call failed",
			zap.String("op", op),
			zap.String("collection", collection),
			zap.Error(err))
		if op == opCreate && !refused(err) {
			return fmt.Errorf("%w: %s %s: %v", store.ErrWriteUncertain, op, collection, err)
		}
		return fmt.Errorf("%w: %s %s: %v", store.ErrGatewayUnavailable, op, collection, err)
	}
	if !resp.IsError() {
		return nil
	}

	status := resp.StatusCode()
	message := resp.Status()
	var apiErr errorResponse
	if jsonErr := json.Unmarshal(resp.Body(), &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	zap.L().Error("Table service returned error",
		zap.String("op", op),
		zap.String("collection", collection),
		zap.Int("status_code", status),
		zap.String("message", message))

	switch {
	case op == opCreate && status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s %s: status %d: %s", store.ErrWriteUncertain, op, collection, status, message)
	case transient(status):
		return fmt.Errorf("%w: %s %s: status %d: %s", store.ErrGatewayUnavailable, op, collection, status, message)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s: %s", store.ErrRecordNotFound, op, collection, message)
	}
	return fmt.Errorf("table service %s %s: status %d: %s", op, collection, status, message)
}
