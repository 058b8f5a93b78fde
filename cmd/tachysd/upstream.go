// upstream.go: batched multi-key fetches against an upstream JSON API
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/agilira/tachys"
)

// maxUpstreamBody bounds the upstream response read into memory.
const maxUpstreamBody = 16 << 20

type upstreamRequest struct {
	Keys    []string                   `json:"keys"`
	Payload map[string]json.RawMessage `json:"payload,omitempty"`
}

type upstreamResponse struct {
	Values map[string]json.RawMessage `json:"values"`
	Errors map[string]string          `json:"errors"`
}

// upstream turns one batch of fetches into a single POST of
// {"keys": [...]} and maps {"values": {...}, "errors": {...}} back to the
// individual requests. Keys absent from both maps are left unanswered.
type upstream struct {
	url    string
	client *http.Client
}

func newUpstream(url string, timeout time.Duration) *upstream {
	return &upstream{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Dispatch implements tachys.Dispatcher.
func (u *upstream) Dispatch(ctx context.Context, channel string, batch []tachys.Request[tachys.Fetch]) ([]tachys.Response[interface{}], error) {
	body := upstreamRequest{Keys: make([]string, 0, len(batch))}
	seen := make(map[string]bool, len(batch))
	for _, req := range batch {
		if seen[req.Payload.Key] {
			continue
		}
		seen[req.Payload.Key] = true
		body.Keys = append(body.Keys, req.Payload.Key)

		if req.Payload.Payload != nil {
			raw, err := json.Marshal(req.Payload.Payload)
			if err != nil {
				return nil, fmt.Errorf("encode payload for %q: %w", req.Payload.Key, err)
			}
			if body.Payload == nil {
				body.Payload = make(map[string]json.RawMessage)
			}
			body.Payload[req.Payload.Key] = raw
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tachys-Channel", channel)

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream returned %s", resp.Status)
	}

	var decoded upstreamResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode upstream response: %w", err)
	}

	responses := make([]tachys.Response[interface{}], 0, len(batch))
	for _, req := range batch {
		key := req.Payload.Key
		if msg, ok := decoded.Errors[key]; ok {
			responses = append(responses, tachys.Response[interface{}]{ID: req.ID, Err: tachys.NewErrBatchExecution(channel, 1, fmt.Errorf("upstream: %s", msg))})
			continue
		}
		value, ok := decoded.Values[key]
		if !ok {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(value, &v); err != nil {
			responses = append(responses, tachys.Response[interface{}]{ID: req.ID, Err: tachys.NewErrBatchExecution(channel, 1, err)})
			continue
		}
		responses = append(responses, tachys.Response[interface{}]{ID: req.ID, Value: v})
	}
	return responses, nil
}
