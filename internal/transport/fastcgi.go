package transport

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	fcgiclient "github.com/tomasen/fcgi_client"
)

// FastCGIBuilder produces a RoundTripper that speaks FastCGI to a
// PHP-FPM-style backend instead of raw HTTP. It is the fifth
// ClientTransportBuilder variant; since FastCGI has no native Go
// RoundTripper, this type translates each *http.Request into FastCGI
// params and replays the response as a regular *http.Response so the
// rest of the engine never needs to know the wire protocol differs.
type FastCGIBuilder struct {
	// ScriptFilename is the absolute path FastCGI backends expect in
	// the SCRIPT_FILENAME param. It is fixed at builder construction
	// because the engine issues many distinct Resource paths against
	// one backend script (typical of PHP front-controllers).
	ScriptFilename string
}

func (b FastCGIBuilder) Build(selectors int, _ *tls.Config) (http.RoundTripper, error) {
	return newFastCGITransport(selectorBound(selectors), b.ScriptFilename), nil
}

const fastCGIDialTimeout = 5 * time.Second

// fastCGITransport dials a fresh FastCGI connection for every round trip
// and closes it afterwards; connections are not pooled. A semaphore of
// selectors × maxConnsPerDestinationFastCGI slots bounds how many round
// trips are in flight at once, across all destinations.
type fastCGITransport struct {
	scriptFilename string
	sem            chan struct{}
}

func newFastCGITransport(selectors int, scriptFilename string) *fastCGITransport {
	limit := selectors * maxConnsPerDestinationFastCGI
	if limit < 1 {
		limit = maxConnsPerDestinationFastCGI
	}
	return &fastCGITransport{
		scriptFilename: scriptFilename,
		sem:            make(chan struct{}, limit),
	}
}

func (t *fastCGITransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.sem <- struct{}{}
	defer func() { <-t.sem }()

	client, err := fcgiclient.DialTimeout("tcp", req.URL.Host, fastCGIDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("fastcgi: dial %s: %w", req.URL.Host, err)
	}
	defer client.Close()

	var body []byte
	if req.Body != nil {
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("fastcgi: read request body: %w", err)
		}
	}

	params := map[string]string{
		"REQUEST_METHOD":    req.Method,
		"SCRIPT_FILENAME":   t.scriptFilename,
		"SCRIPT_NAME":       req.URL.Path,
		"REQUEST_URI":       req.URL.RequestURI(),
		"QUERY_STRING":      req.URL.RawQuery,
		"SERVER_PROTOCOL":   "HTTP/1.1",
		"CONTENT_LENGTH":    strconv.Itoa(len(body)),
		"GATEWAY_INTERFACE": "CGI/1.1",
	}
	for k, v := range req.Header {
		if len(v) > 0 {
			params["HTTP_"+headerEnvName(k)] = v[0]
		}
	}
	if ct := req.Header.Get("Content-Type"); ct != "" {
		params["CONTENT_TYPE"] = ct
	}

	resp, err := client.Request(params, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fastcgi: request: %w", err)
	}
	resp.Request = req
	return resp, nil
}

func headerEnvName(canonical string) string {
	out := make([]byte, len(canonical))
	for i := 0; i < len(canonical); i++ {
		c := canonical[i]
		if c == '-' {
			out[i] = '_'
		} else if c >= 'a' && c <= 'z' {
			out[i] = c - ('a' - 'A')
		} else {
			out[i] = c
		}
	}
	return string(out)
}
