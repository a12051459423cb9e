package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zateckar/monitor-sub001/internal/domain"
	"github.com/zateckar/monitor-sub001/internal/mtls"
)

// maxProbeBody caps how much of a response body is read for keyword search.
const maxProbeBody = 10 << 20

// HTTPExecutor probes endpoints over HTTP(S), optionally presenting a client
// certificate for mutual TLS.
type HTTPExecutor struct{}

// NewHTTPExecutor creates the HTTP probe executor.
func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{}
}

func (x *HTTPExecutor) Type() domain.CheckType { return domain.CheckHTTP }

func (x *HTTPExecutor) Execute(ctx context.Context, e *domain.Endpoint) Result {
	client, err := x.clientFor(e)
	if err != nil {
		return fail(fmt.Sprintf("tls: %v", err))
	}

	method := e.HTTPMethod
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if e.HTTPBody != "" {
		body = strings.NewReader(e.HTTPBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.URL, body)
	if err != nil {
		return fail(fmt.Sprintf("invalid request: %v", err))
	}
	for k, v := range e.HTTPHeaders {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fail(classifyNetError(err))
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	meta := map[string]any{"httpStatus": resp.StatusCode}

	if !e.StatusOK(resp.StatusCode) {
		res := fail(fmt.Sprintf("status %d", resp.StatusCode))
		res.ResponseTime = float64(elapsed.Milliseconds())
		res.Metadata = meta
		return res
	}

	if e.KeywordSearch != "" {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
		if err != nil {
			return fail(classifyNetError(err))
		}
		if !strings.Contains(string(data), e.KeywordSearch) {
			res := fail("missing_keyword")
			res.ResponseTime = float64(elapsed.Milliseconds())
			res.Metadata = meta
			return res
		}
	}

	res := ok(elapsed)
	res.Metadata = meta
	return res
}

// clientFor builds an HTTP client for the endpoint, wiring the mTLS triple
// into the transport when present on an https target.
func (x *HTTPExecutor) clientFor(e *domain.Endpoint) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if strings.HasPrefix(e.URL, "https") {
		tlsCfg, err := mtls.ClientConfig(e.ClientCertPEM, e.ClientKeyPEM, e.CACertPEM)
		if err != nil {
			return nil, err
		}
		if tlsCfg != nil {
			transport.TLSClientConfig = tlsCfg
		}
	}

	return &http.Client{Transport: transport}, nil
}
