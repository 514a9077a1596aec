package transport

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/volcanion-company/loadgen-core/internal/domain"
	"github.com/volcanion-company/loadgen-core/internal/model"
)

// RequestFeed receives the full request/response lifecycle.
// *result.Handler satisfies this without transport importing result,
// keeping the dependency pointed the other way.
type RequestFeed interface {
	OnBegin(req *http.Request)
	OnCommit(req *http.Request)
	OnSuccess(req *http.Request, resp *http.Response)
	OnFailure(req *http.Request, err error)
}

// HTTPClientSender implements model.Sender over a standard *http.Client,
// whose RoundTripper is one of this package's five Builder variants or
// the FastCGI bridge. It owns no retry logic: a failed send becomes a
// PerRequestError the Runner counts, not something this layer papers
// over.
type HTTPClientSender struct {
	client *http.Client
	feed   RequestFeed
}

// NewHTTPClientSender wraps client, reporting begin/commit events to
// feed. feed may be nil for tests that don't need the request
// lifecycle observed.
func NewHTTPClientSender(client *http.Client, feed RequestFeed) *HTTPClientSender {
	return &HTTPClientSender{client: client, feed: feed}
}

// Send performs the round trip and fills in a fresh ResourceInfo.
// RequestStartNs is not set here: model.Issue stamps it before Send is
// called, from the same clock read used for the After-Send-Time
// header, so latency stays comparable across the two. onResponseBegin,
// if non-nil, is invoked as soon as client.Do returns a response, before
// the body is drained, so a waterfall's children can start without
// waiting for the parent's body to finish.
func (s *HTTPClientSender) Send(ctx context.Context, req *http.Request, onResponseBegin func()) (*model.ResourceInfo, error) {
	if ctx.Err() != nil {
		rejection := &domain.ShutdownRejection{}
		if s.feed != nil {
			s.feed.OnFailure(req, rejection)
		}
		return nil, rejection
	}

	if s.feed != nil {
		s.feed.OnBegin(req)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		wrapped := domain.NewPerRequestError(req.URL.Path, err)
		if s.feed != nil {
			s.feed.OnFailure(req, wrapped)
		}
		return nil, wrapped
	}
	defer resp.Body.Close()

	if s.feed != nil {
		s.feed.OnCommit(req)
	}
	responseStartNs := time.Now().UnixNano()
	if onResponseBegin != nil {
		onResponseBegin()
	}

	received, copyErr := io.Copy(io.Discard, resp.Body)
	responseEndNs := time.Now().UnixNano()

	info := &model.ResourceInfo{
		ResponseStartNs: responseStartNs,
		ResponseEndNs:   responseEndNs,
		Status:          resp.StatusCode,
		BytesReceived:   received,
		BytesSent:       req.ContentLength,
	}

	if copyErr != nil {
		wrapped := domain.NewPerRequestError(req.URL.Path, copyErr)
		if s.feed != nil {
			s.feed.OnFailure(req, wrapped)
		}
		return info, wrapped
	}
	if s.feed != nil {
		s.feed.OnSuccess(req, resp)
	}
	return info, nil
}
