// Package net implements the streaming core's request dispatcher: a
// pluggable-scheme, retrying, URI-fallback HTTP engine that reports
// every successful response's (bytes, elapsed) to an observer consumed
// by the ABR controller (spec §2, §4.3).
//
// It generalizes the teacher's dash.Client (redirect-following fetch)
// and dash.Downloader (worker-pool retry loop) into a single engine
// whose retry behaviour is driven by a configurable RetryPolicy instead
// of the teacher's hardcoded 3-attempts/200ms.
package net

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"streamcore/internal/errors"
	"streamcore/internal/logger"
)

// RequestType classifies a request for engine filters/observers.
type RequestType int

const (
	RequestTypeManifest RequestType = iota
	RequestTypeSegment
	RequestTypeInitSegment
	RequestTypeLicense
	RequestTypeServerCertificate
)

// Request describes one logical fetch, with ordered fallback URIs.
type Request struct {
	Type    RequestType
	URIs    []string
	Method  string
	Headers http.Header
	Body    []byte
	Retry   RetryPolicy
}

// Response is the result of a successful request.
type Response struct {
	URI        string
	StatusCode int
	Headers    http.Header
	Data       []byte
	ElapsedMs  int64
}

// Observer receives (elapsed_ms, bytes) for every successful response;
// the ABR controller is the canonical observer.
type Observer func(deltaMs int64, numBytes int64)

// Filter can reject or rewrite a request before it is sent, and is the
// hook manifest parsers register through PlayerInterface.Networking().
type Filter func(req *Request) error

// Engine is the request dispatcher.
type Engine struct {
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string

	observers []Observer
	filters   []Filter
}

// NewEngine creates an Engine. The transport setup (response-header
// timeout, manual redirect handling) mirrors the teacher's
// dash.NewClient.
func NewEngine(log logger.Logger, userAgent string) *Engine {
	transport := &http.Transport{
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &Engine{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:    log,
		userAgent: userAgent,
	}
}

// AddObserver registers a response observer (e.g. the ABR controller).
func (e *Engine) AddObserver(o Observer) { e.observers = append(e.observers, o) }

// AddFilter registers a request filter.
func (e *Engine) AddFilter(f Filter) { e.filters = append(e.filters, f) }

// HTTPClient exposes the underlying client, mirroring the teacher's
// Client.HttpClient() accessor used by the downloader.
func (e *Engine) HTTPClient() *http.Client { return e.httpClient }

// Request dispatches req, retrying per req.Retry and trying the next
// URI on a retriable failure before counting a new attempt, per spec
// §4.3. ctx cancellation plays the role of the spec's is_canceled
// closure — polled between tries and used as the per-try deadline.
func (e *Engine) Request(ctx context.Context, req Request) (*Response, error) {
	for _, f := range e.filters {
		if err := f(&req); err != nil {
			return nil, err
		}
	}
	if len(req.URIs) == 0 {
		return nil, errors.New(errors.CRITICAL, errors.CategoryNetwork, errors.CodeMalformedDataURI, "request has no uris")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var lastErr error
	attempt := 0
	uriIdx := 0
	for attempt < max(req.Retry.MaxAttempts, 1) {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.RECOVERABLE, errors.CategoryNetwork, errors.CodeOperationAborted, ctx.Err())
		default:
		}

		uri := req.URIs[uriIdx%len(req.URIs)]
		resp, err := e.doOnce(ctx, method, uri, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		e.logger.Warnf("request attempt %d to %s failed: %v", attempt+1, uri, err)

		// Try next URI before counting a new attempt, unless we've
		// exhausted the fallback list — then it counts as an attempt.
		uriIdx++
		if uriIdx%len(req.URIs) != 0 {
			continue
		}
		attempt++
		if attempt >= req.Retry.MaxAttempts {
			break
		}
		delay := req.Retry.DelayForAttempt(attempt - 1)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Wrap(errors.RECOVERABLE, errors.CategoryNetwork, errors.CodeOperationAborted, ctx.Err())
		case <-timer.C:
		}
	}

	return nil, errors.Wrap(errors.RECOVERABLE, errors.CategoryNetwork, errors.CodeHTTPError,
		fmt.Errorf("request failed after %d attempts across %d uris: %w", attempt, len(req.URIs), lastErr))
}

func (e *Engine) doOnce(ctx context.Context, method, uri string, req Request) (*Response, error) {
	timeout := req.Retry.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(tryCtx, method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", uri, err)
	}
	if e.userAgent != "" {
		httpReq.Header.Set("User-Agent", e.userAgent)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	start := time.Now()
	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request to %s: %w", uri, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusFound || httpResp.StatusCode == http.StatusMovedPermanently {
		location, lerr := httpResp.Location()
		if lerr == nil {
			return e.doOnce(ctx, method, location.String(), req)
		}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, errors.New(errors.RECOVERABLE, errors.CategoryNetwork, errors.CodeBadHTTPStatus,
			fmt.Sprintf("received status %d from %s", httpResp.StatusCode, uri))
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", uri, err)
	}

	elapsed := time.Since(start)
	for _, o := range e.observers {
		o(elapsed.Milliseconds(), int64(len(data)))
	}

	return &Response{
		URI:        uri,
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Data:       data,
		ElapsedMs:  elapsed.Milliseconds(),
	}, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
