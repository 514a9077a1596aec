package model

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Method defaults to GET when a Resource does not name one.
const DefaultMethod = http.MethodGet

// DownloadHeader tells the server how many bytes of response body to echo back.
const DownloadHeader = "X-Download"

// SendTimeHeader carries the send timestamp so the result handler can
// compute latency independently of the client's own internal timing.
// The value is wall-clock Unix nanoseconds (time.Now().UnixNano()), not
// a monotonic clock reading, so a clock step during a request skews it.
const SendTimeHeader = "After-Send-Time"

// SessionCookieName is the per-Runner session cookie prefix.
const SessionCookieName = "lgrun_id"

// Resource is an immutable node describing one HTTP request plus its
// children. A Resource with an empty Path is a pure grouping node: it
// issues no request of its own, but its children are still issued.
type Resource struct {
	Path           string
	Method         string
	ResponseLength int64
	RequestBodyLen int64
	Children       []*Resource

	// ThinkTimeMs, when > 0, is a delay the Runner observes after this
	// resource's tree has fully completed and before issuing the next
	// root in its iteration, modeling user pacing between page loads.
	ThinkTimeMs int
}

// IsGroup reports whether this node issues no HTTP request itself.
func (r *Resource) IsGroup() bool {
	return r.Path == ""
}

func (r *Resource) method() string {
	if r.Method == "" {
		return DefaultMethod
	}
	return r.Method
}

// Walk performs a post-order traversal of the tree rooted at r, used to
// estimate the per-iteration resource count.
func Walk(root *Resource, visitor func(*Resource)) {
	if root == nil {
		return
	}
	for _, child := range root.Children {
		Walk(child, visitor)
	}
	visitor(root)
}

// Count returns the number of resource nodes in the tree rooted at root,
// including group nodes.
func Count(root *Resource) int {
	n := 0
	Walk(root, func(*Resource) { n++ })
	return n
}

// ResourceInfo is created per in-flight resource occurrence.
type ResourceInfo struct {
	Resource        *Resource
	RequestStartNs  int64
	ResponseStartNs int64
	ResponseEndNs   int64
	Status          int
	BytesSent       int64
	BytesReceived   int64
	Err             error
}

// Latency is the time from request submission to first response byte.
func (ri *ResourceInfo) Latency() time.Duration {
	return time.Duration(ri.ResponseStartNs - ri.RequestStartNs)
}

// ResponseTime is the time from request submission to last response byte.
func (ri *ResourceInfo) ResponseTime() time.Duration {
	return time.Duration(ri.ResponseEndNs - ri.RequestStartNs)
}

// Sender performs the actual HTTP round trip for one resource occurrence.
// It is injected by the Runner so the tree package stays transport-agnostic.
// onResponseBegin, if non-nil, is called as soon as the response has
// started arriving (headers received), before the body is read, so a
// caller can start dependent work without waiting for the body to drain.
type Sender interface {
	Send(ctx context.Context, req *http.Request, onResponseBegin func()) (*ResourceInfo, error)
}

// IssueHandler receives terminal per-resource and per-subtree notifications
// as the tree is walked. It mirrors the hot-path shape of the result
// handler without coupling the tree package to it.
type IssueHandler interface {
	OnNode(info *ResourceInfo)
	OnTree(root *ResourceInfo)
}

// Endpoint names the scheme/host/port every request in a tree is bound to.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
}

func (e Endpoint) url(path string) string {
	port := strconv.Itoa(e.Port)
	return e.Scheme + "://" + e.Host + ":" + port + path
}

// Issue asynchronously issues every descendant request of root and
// returns once the entire subtree (root included) has reached a
// terminal outcome. Children of a node are issued in declared order but
// may complete in any order; they are started once the parent's
// response has begun (browser-style waterfall), or immediately for a
// group node since it never produces a response of its own.
func Issue(ctx context.Context, root *Resource, ep Endpoint, sessionID string, sender Sender, handler IssueHandler) {
	var wg sync.WaitGroup
	rootInfo := &ResourceInfo{Resource: root}

	var walk func(node *Resource, info *ResourceInfo) <-chan struct{}
	walk = func(node *Resource, info *ResourceInfo) <-chan struct{} {
		began := make(chan struct{})

		if node.IsGroup() {
			close(began)
			for _, child := range node.Children {
				wg.Add(1)
				go func(c *Resource) {
					defer wg.Done()
					<-walk(c, &ResourceInfo{Resource: c})
				}(child)
			}
			return began
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			var spawnOnce sync.Once
			spawnChildren := func() {
				spawnOnce.Do(func() {
					close(began)
					for _, child := range node.Children {
						wg.Add(1)
						go func(c *Resource) {
							defer wg.Done()
							<-walk(c, &ResourceInfo{Resource: c})
						}(child)
					}
				})
			}

			issueOneInto(ctx, node, ep, sessionID, sender, info, spawnChildren)
			// If Send never reached response-begin (e.g. the request failed
			// before a response arrived), children still need to be issued
			// and began still needs to be closed so the parent walk can
			// proceed; spawnOnce makes this a no-op when Send already did it.
			spawnChildren()
			handler.OnNode(info)
		}()
		return began
	}

	<-walk(root, rootInfo)
	wg.Wait()
	handler.OnTree(rootInfo)
}

func issueOneInto(ctx context.Context, node *Resource, ep Endpoint, sessionID string, sender Sender, info *ResourceInfo, onResponseBegin func()) {
	var body *bytes.Reader
	if node.RequestBodyLen > 0 {
		body = bytes.NewReader(make([]byte, node.RequestBodyLen))
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, node.method(), ep.url(node.Path), body)
	sendNs := time.Now().UnixNano()
	info.RequestStartNs = sendNs
	if err != nil {
		info.Err = err
		return
	}

	if node.ResponseLength > 0 {
		req.Header.Set(DownloadHeader, strconv.FormatInt(node.ResponseLength, 10))
	}
	req.Header.Set(SendTimeHeader, strconv.FormatInt(sendNs, 10))
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: sessionID})

	result, err := sender.Send(ctx, req, onResponseBegin)
	if result != nil {
		info.ResponseStartNs = result.ResponseStartNs
		info.ResponseEndNs = result.ResponseEndNs
		info.Status = result.Status
		info.BytesSent = result.BytesSent
		info.BytesReceived = result.BytesReceived
	}
	if err != nil {
		info.Err = err
	}
}

// NewSessionID returns a per-Runner unique identifier, a nanosecond
// timestamp the way the spec's session-cookie contract requires,
// disambiguated with a uuid suffix to stay unique across restarts within
// the same nanosecond on coarse clocks.
func NewSessionID(createdAt time.Time) string {
	return strconv.FormatInt(createdAt.UnixNano(), 10) + "-" + uuid.NewString()[:8]
}
