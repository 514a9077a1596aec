package engine

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

	"github.com/volcanion-company/loadgen-core/internal/logger"
	"github.com/volcanion-company/loadgen-core/internal/model"
	"github.com/volcanion-company/loadgen-core/internal/observe"
	"github.com/volcanion-company/loadgen-core/internal/stats"
)

func init() {
	if err := logger.Init("error"); err != nil {
		panic(err)
	}
}

func testEndpoint(t *testing.T, server *httptest.Server) model.EngineConfig {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return model.EngineConfig{
		Scheme:    "http",
		Host:      u.Hostname(),
		Port:      port,
		Transport: model.TransportHTTP1,
		Selectors: 1,
	}
}

func okServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

// Scenario 1: default configuration, one worker, one iteration, one GET
// "/" resource. The future completes successfully within 5s with
// exactly one request observed.
func TestEngine_DefaultConfiguration(t *testing.T) {
	server := okServer()
	defer server.Close()

	var nodeCount atomic.Int32
	e, err := NewBuilder().
		WithWorkload(model.Workload{
			Roots:             []*model.Resource{{Path: "/"}},
			Users:             1,
			IterationsPerUser: 1,
		}).
		WithEndpoint(testEndpoint(t, server)).
		WithLogger(logger.WithEngineID("default-configuration")).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	future, handler, err := e.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	handler.AddNodeListener(observe.NodeListenerFunc(func(*model.ResourceInfo) { nodeCount.Add(1) }))

	select {
	case <-future.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future did not resolve within 5s")
	}
	if err := future.Wait(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if handler.TotalRequests() != 1 {
		t.Errorf("expected 1 request, got %d", handler.TotalRequests())
	}
}

// Scenario 2: 2 workers, 1 iteration each; onBegin observes 2 distinct
// Runner identities.
func TestEngine_MultipleWorkersDistinctIdentities(t *testing.T) {
	server := okServer()
	defer server.Close()

	e, err := NewBuilder().
		WithWorkload(model.Workload{
			Roots:             []*model.Resource{{Path: "/"}},
			Users:             2,
			IterationsPerUser: 1,
		}).
		WithEndpoint(func() model.EngineConfig {
			cfg := testEndpoint(t, server)
			cfg.WorkerCount = 2
			return cfg
		}()).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var mu sync.Mutex
	seen := map[string]struct{}{}
	future, handler, err := e.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	handler.AddRequestListener(requestListenerFuncs{
		onBegin: func(req *http.Request) {
			cookie, err := req.Cookie(model.SessionCookieName)
			if err != nil {
				t.Errorf("expected request to carry the %s cookie: %v", model.SessionCookieName, err)
				return
			}
			mu.Lock()
			seen[cookie.Value] = struct{}{}
			mu.Unlock()
		},
	})

	if err := future.Wait(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	mu.Lock()
	count := len(seen)
	mu.Unlock()
	if count != 2 {
		t.Errorf("expected 2 distinct runner identities observed, got %d", count)
	}
}

// Scenario 3: unbounded iterations at rate 5/s; Interrupt after 1s
// resolves the future with a cancellation-kind error within 5s.
func TestEngine_Interrupt(t *testing.T) {
	server := okServer()
	defer server.Close()

	e, err := NewBuilder().
		WithWorkload(model.Workload{
			Roots:        []*model.Resource{{Path: "/"}},
			Users:        1,
			ResourceRate: 5,
		}).
		WithEndpoint(testEndpoint(t, server)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	future, _, err := e.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	go func() {
		time.Sleep(1 * time.Second)
		e.Interrupt()
	}()

	select {
	case <-future.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("future did not resolve within 5s")
	}
	if future.Wait() == nil {
		t.Fatal("expected a cancellation-kind error, got nil")
	}
}

// Scenario 4: runFor(2s) at rate 5/s resolves within 4s with
// approximately 10 requests.
func TestEngine_RunFor(t *testing.T) {
	server := okServer()
	defer server.Close()

	e, err := NewBuilder().
		WithWorkload(model.Workload{
			Roots:        []*model.Resource{{Path: "/"}},
			Users:        1,
			ResourceRate: 5,
		}).
		WithEndpoint(testEndpoint(t, server)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	future, handler, err := e.RunFor(context.Background(), 2*time.Second)
	if err != nil {
		t.Fatalf("RunFor: %v", err)
	}

	select {
	case <-future.Done():
	case <-time.After(4 * time.Second):
		t.Fatal("future did not resolve within 4s")
	}

	total := handler.TotalRequests()
	if total < 7 || total > 13 {
		t.Errorf("expected roughly 10 requests, got %d", total)
	}
}

// Scenario 5: root "/" has child "/1" which has child "/11". NodeListener
// sees every descendant complete before TreeListener fires once for
// root; every status is 200.
func TestEngine_ResourceTreeOrdering(t *testing.T) {
	server := okServer()
	defer server.Close()

	root := &model.Resource{Path: "/", Children: []*model.Resource{
		{Path: "/1", Children: []*model.Resource{
			{Path: "/11"},
		}},
	}}

	e, err := NewBuilder().
		WithWorkload(model.Workload{
			Roots:             []*model.Resource{root},
			Users:             1,
			IterationsPerUser: 1,
		}).
		WithEndpoint(testEndpoint(t, server)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	future, handler, err := e.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	var mu sync.Mutex
	var nodePaths []string
	var treeFired int
	handler.AddNodeListener(observe.NodeListenerFunc(func(info *model.ResourceInfo) {
		mu.Lock()
		nodePaths = append(nodePaths, info.Resource.Path)
		if info.Status != http.StatusOK {
			t.Errorf("expected status 200, got %d", info.Status)
		}
		mu.Unlock()
	}))
	handler.AddTreeListener(observe.TreeListenerFunc(func(*model.ResourceInfo) {
		mu.Lock()
		treeFired++
		if len(nodePaths) != 3 {
			t.Errorf("expected tree listener to fire after all 3 node completions, fired after %d", len(nodePaths))
		}
		mu.Unlock()
	}))

	if err := future.Wait(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(nodePaths) != 3 {
		t.Fatalf("expected 3 node completions, got %d: %v", len(nodePaths), nodePaths)
	}
	if treeFired != 1 {
		t.Errorf("expected tree listener to fire exactly once, got %d", treeFired)
	}

	for _, path := range []string{"/", "/1", "/11"} {
		if got := handler.PathRecorders().Get(path).Count(); got != 1 {
			t.Errorf("path %q: expected 1 recorded response time, got %d", path, got)
		}
	}
	var tracked []string
	handler.PathRecorders().Each(func(path string, _ *stats.Recorder) { tracked = append(tracked, path) })
	if len(tracked) != 3 {
		t.Errorf("expected 3 tracked paths, got %d: %v", len(tracked), tracked)
	}
}

// Scenario 6: warmup=2, iterations=3, one resource; RequestListener
// count = 5, NodeListener count = 3.
func TestEngine_WarmupExclusion(t *testing.T) {
	server := okServer()
	defer server.Close()

	e, err := NewBuilder().
		WithWorkload(model.Workload{
			Roots:             []*model.Resource{{Path: "/"}},
			Users:             1,
			WarmupIterations:  2,
			IterationsPerUser: 3,
		}).
		WithEndpoint(testEndpoint(t, server)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	future, handler, err := e.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	var requestCount, nodeCount atomic.Int32
	handler.AddRequestListener(requestListenerFuncs{
		onBegin: func(*http.Request) { requestCount.Add(1) },
	})
	handler.AddNodeListener(observe.NodeListenerFunc(func(*model.ResourceInfo) { nodeCount.Add(1) }))

	if err := future.Wait(); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if requestCount.Load() != 5 {
		t.Errorf("expected 5 request-listener callbacks, got %d", requestCount.Load())
	}
	if nodeCount.Load() != 3 {
		t.Errorf("expected 3 node-listener callbacks, got %d", nodeCount.Load())
	}
}

// Scenario 7: the same Engine run twice via Begin; each run yields
// exactly iterations × resourcesPerIteration node callbacks and state
// resets fully between runs.
func TestEngine_TwoRuns(t *testing.T) {
	server := okServer()
	defer server.Close()

	e, err := NewBuilder().
		WithWorkload(model.Workload{
			Roots:             []*model.Resource{{Path: "/"}},
			Users:             1,
			IterationsPerUser: 3,
		}).
		WithEndpoint(testEndpoint(t, server)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for run := 0; run < 2; run++ {
		future, handler, err := e.Begin(context.Background())
		if err != nil {
			t.Fatalf("run %d Begin: %v", run, err)
		}
		var nodeCount atomic.Int32
		handler.AddNodeListener(observe.NodeListenerFunc(func(*model.ResourceInfo) { nodeCount.Add(1) }))

		if err := future.Wait(); err != nil {
			t.Fatalf("run %d unexpected error: %v", run, err)
		}
		if nodeCount.Load() != 3 {
			t.Errorf("run %d: expected 3 node callbacks, got %d", run, nodeCount.Load())
		}
		if e.State() != model.StateStopped {
			t.Errorf("run %d: expected STOPPED, got %s", run, e.State())
		}
	}
}

// requestListenerFuncs adapts individual callbacks to observe.RequestListener
// for tests that only care about one hook.
type requestListenerFuncs struct {
	onBegin   func(*http.Request)
	onCommit  func(*http.Request)
	onSuccess func(*http.Request, *http.Response)
	onFailure func(*http.Request, error)
}

func (f requestListenerFuncs) OnBegin(req *http.Request) {
	if f.onBegin != nil {
		f.onBegin(req)
	}
}
func (f requestListenerFuncs) OnCommit(req *http.Request) {
	if f.onCommit != nil {
		f.onCommit(req)
	}
}
func (f requestListenerFuncs) OnSuccess(req *http.Request, resp *http.Response) {
	if f.onSuccess != nil {
		f.onSuccess(req, resp)
	}
}
func (f requestListenerFuncs) OnFailure(req *http.Request, err error) {
	if f.onFailure != nil {
		f.onFailure(req, err)
	}
}
