package model

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeSender struct {
	status int
}

func (s fakeSender) Send(ctx context.Context, req *http.Request, onResponseBegin func()) (*ResourceInfo, error) {
	if onResponseBegin != nil {
		onResponseBegin()
	}
	return &ResourceInfo{Status: s.status}, nil
}

type collectingHandler struct {
	mu    sync.Mutex
	nodes []string
	trees int32
}

func (h *collectingHandler) OnNode(info *ResourceInfo) {
	h.mu.Lock()
	h.nodes = append(h.nodes, info.Resource.Path)
	h.mu.Unlock()
}

func (h *collectingHandler) OnTree(*ResourceInfo) { atomic.AddInt32(&h.trees, 1) }

// httpTestSender is a minimal real Sender, used to exercise Issue's
// request construction (method, path, headers, cookie) end to end
// against an httptest.Server.
type httpTestSender struct{ client *http.Client }

func (s httpTestSender) Send(ctx context.Context, req *http.Request, onResponseBegin func()) (*ResourceInfo, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if onResponseBegin != nil {
		onResponseBegin()
	}
	return &ResourceInfo{Status: resp.StatusCode}, nil
}

func TestIssue_VisitsEveryDescendantBeforeTreeCompletes(t *testing.T) {
	root := &Resource{Path: "/", Children: []*Resource{
		{Path: "/1", Children: []*Resource{{Path: "/11"}}},
		{Path: "/2"},
	}}

	h := &collectingHandler{}
	Issue(context.Background(), root, Endpoint{Scheme: "http", Host: "example.test", Port: 80}, "sess", fakeSender{status: 200}, h)

	if len(h.nodes) != 4 {
		t.Fatalf("expected 4 node completions, got %d: %v", len(h.nodes), h.nodes)
	}
	if h.trees != 1 {
		t.Errorf("expected tree listener to fire once, got %d", h.trees)
	}
}

func TestIssue_GroupNodeIssuesNoRequestButVisitsChildren(t *testing.T) {
	root := &Resource{Children: []*Resource{{Path: "/a"}, {Path: "/b"}}}

	h := &collectingHandler{}
	Issue(context.Background(), root, Endpoint{Scheme: "http", Host: "example.test", Port: 80}, "sess", fakeSender{status: 200}, h)

	if len(h.nodes) != 2 {
		t.Fatalf("expected 2 node completions (group itself issues nothing), got %d: %v", len(h.nodes), h.nodes)
	}
}

func TestIssue_SendsRealRequest(t *testing.T) {
	var gotMethod, gotPath, gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		if c, err := r.Cookie(SessionCookieName); err == nil {
			gotCookie = c.Value
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}

	sender := httpTestSender{client: server.Client()}
	h := &collectingHandler{}
	root := &Resource{Path: "/widgets", Method: http.MethodPost}
	Issue(context.Background(), root, Endpoint{Scheme: "http", Host: "127.0.0.1", Port: port}, "abc123", sender, h)

	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotPath != "/widgets" {
		t.Errorf("expected /widgets, got %s", gotPath)
	}
	if gotCookie != "abc123" {
		t.Errorf("expected session cookie abc123, got %q", gotCookie)
	}
}

func TestResource_IsGroup(t *testing.T) {
	if !(&Resource{}).IsGroup() {
		t.Error("empty path should be a group node")
	}
	if (&Resource{Path: "/"}).IsGroup() {
		t.Error("non-empty path should not be a group node")
	}
}

func TestCount(t *testing.T) {
	root := &Resource{Path: "/", Children: []*Resource{
		{Path: "/1"}, {Path: "/2", Children: []*Resource{{Path: "/21"}}},
	}}
	if got := Count(root); got != 4 {
		t.Errorf("expected 4 nodes, got %d", got)
	}
}

func TestNewSessionID_Unique(t *testing.T) {
	now := time.Now()
	a := NewSessionID(now)
	b := NewSessionID(now)
	if a == b {
		t.Error("expected distinct session ids even for the same timestamp")
	}
}
