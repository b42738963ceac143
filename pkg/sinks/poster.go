/*
Copyright 2023 The Meterproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/meterproj/meterflow/pkg/shared/logging"
	"github.com/meterproj/meterflow/pkg/store"
)

// AuthProvider supplies the Authorization header value for outbound calls.
type AuthProvider func(ctx context.Context) (string, error)

const defaultRetries = 5

// Poster posts output documents to sink targets and classifies responses.
// The sink runs its own duplicate filter, so a plain 409 is a benign
// duplicate; a 409 carrying {error: "slack"} means the duplicate fell
// outside the sink's dedupe window and must fail. When this engine has no
// duplicate filter of its own, every sink 409 is a real failure.
type Poster struct {
	client        *http.Client
	retries       int
	auth          AuthProvider
	dedupeEnabled bool
	log           *zap.SugaredLogger
}

// PosterOption customizes a Poster.
type PosterOption func(*Poster)

// WithClient overrides the HTTP client.
func WithClient(c *http.Client) PosterOption {
	return func(p *Poster) { p.client = c }
}

// WithRetries bounds the post attempts per document.
func WithRetries(n int) PosterOption {
	return func(p *Poster) { p.retries = n }
}

// WithAuth attaches an authentication provider.
func WithAuth(a AuthProvider) PosterOption {
	return func(p *Poster) { p.auth = a }
}

// WithDedupe tells the poster whether this engine filters duplicates, which
// decides how a plain sink 409 is classified.
func WithDedupe(enabled bool) PosterOption {
	return func(p *Poster) { p.dedupeEnabled = enabled }
}

// NewPoster returns a Poster.
func NewPoster(ctx context.Context, opts ...PosterOption) *Poster {
	p := &Poster{
		client:        &http.Client{Timeout: 30 * time.Second},
		retries:       defaultRetries,
		dedupeEnabled: true,
		log:           logging.FromContext(ctx),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Post posts one document to the target URL, retrying transient failures up
// to the configured attempt budget.
func (p *Poster) Post(ctx context.Context, target string, doc store.Doc) error {
	body, err := json.Marshal(doc.WithoutRev())
	if err != nil {
		return fmt.Errorf("failed to marshal output %s: %w", doc.ID(), err)
	}

	backoff := wait.Backoff{
		Steps:    p.retries,
		Duration: 100 * time.Millisecond,
		Factor:   2.0,
		Jitter:   0.1,
	}
	var lastErr error
	err = wait.ExponentialBackoffWithContext(ctx, backoff, func(_ context.Context) (bool, error) {
		lastErr = p.postOnce(ctx, target, doc.ID(), body)
		if lastErr == nil {
			return true, nil
		}
		if store.IsNoRetry(lastErr) {
			return false, lastErr
		}
		p.log.Warnw("Sink post failed, retrying", "id", doc.ID(), "target", target, zap.Error(lastErr))
		return false, nil
	})
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}

func (p *Poster) postOnce(ctx context.Context, target, id string, body []byte) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.auth != nil {
		token, err := p.auth(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire sink token: %w", err)
		}
		req.Header.Set("Authorization", token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		sinkPostErrors.WithLabelValues("network").Inc()
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	status := strconv.Itoa(resp.StatusCode)
	sinkPostsCount.WithLabelValues(status).Inc()
	sinkPostTime.WithLabelValues(status).Observe(float64(time.Since(start).Milliseconds()))

	respBody := decodeBody(resp.Body)
	switch {
	case resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusConflict:
		if e, _ := respBody["error"].(string); e == "slack" {
			sinkPostErrors.WithLabelValues(status).Inc()
			return &PostErr{ID: id, StatusCode: resp.StatusCode, Reason: reason(id, resp.StatusCode, respBody), Terminal: true}
		}
		if !p.dedupeEnabled {
			sinkPostErrors.WithLabelValues(status).Inc()
			return &PostErr{ID: id, StatusCode: resp.StatusCode, Reason: reason(id, resp.StatusCode, respBody), Terminal: true}
		}
		// benign duplicate, the sink already holds this output
		return nil
	default:
		sinkPostErrors.WithLabelValues(status).Inc()
		return &PostErr{ID: id, StatusCode: resp.StatusCode, Reason: reason(id, resp.StatusCode, respBody)}
	}
}

// PostAll posts one call's outputs in parallel and collects every rejection
// into a single esink error.
func (p *Poster) PostAll(ctx context.Context, targets []string, docs []store.Doc) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var reasons []store.Doc
	statusCode := 0

	for i := range docs {
		wg.Add(1)
		go func(target string, doc store.Doc) {
			defer wg.Done()
			err := p.Post(ctx, target, doc)
			if err == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if pe, ok := err.(*PostErr); ok {
				reasons = append(reasons, pe.Reason)
				if statusCode == 0 {
					statusCode = pe.StatusCode
				}
			} else {
				reasons = append(reasons, store.Doc{store.FieldID: doc.ID(), "reason": err.Error()})
			}
		}(targets[i], docs[i])
	}
	wg.Wait()

	if len(reasons) > 0 {
		return &Error{Reasons: reasons, StatusCode: statusCode}
	}
	return nil
}

func decodeBody(r io.Reader) store.Doc {
	var body store.Doc
	b, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil || len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return nil
	}
	return body
}

func reason(id string, status int, body store.Doc) store.Doc {
	r := store.Doc{store.FieldID: id, "status": status}
	for k, v := range body {
		r[k] = v
	}
	return r
}
