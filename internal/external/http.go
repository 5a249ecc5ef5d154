package external

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/profiles"
)

// HTTPManager issues one outbound request and returns its status, headers,
// and body, capped to a bounded read.
type HTTPManager interface {
	Request(ctx context.Context, method, url string, headers map[string]string, body string) (*HTTPResult, error)
}

type HTTPResult struct {
	Status     int               `json:"status"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Truncated  bool              `json:"truncated"`
	DurationMs int64             `json:"duration_ms"`
}

const maxHTTPResponseBody = 1 * 1024 * 1024 // 1 MiB

// StdHTTPManager is the default HTTPManager, a thin wrapper over
// *http.Client with a fixed per-request timeout.
type StdHTTPManager struct {
	Client *http.Client
}

func NewStdHTTPManager(timeout time.Duration) *StdHTTPManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &StdHTTPManager{Client: &http.Client{Timeout: timeout}}
}

func (m *StdHTTPManager) Request(ctx context.Context, method, url string, headers map[string]string, body string) (*HTTPResult, error) {
	started := time.Now()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bodyReader)
	if err != nil {
		return nil, errs.InvalidParams("HTTP_BAD_REQUEST", err.Error())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := m.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Timeout("HTTP_TIMEOUT", err.Error())
		}
		return nil, errs.New(errs.KindRetryable, "HTTP_REQUEST_FAILED", err.Error())
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxHTTPResponseBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errs.Internal(err)
	}
	truncated := len(data) > maxHTTPResponseBody
	if truncated {
		data = data[:maxHTTPResponseBody]
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return &HTTPResult{
		Status:     resp.StatusCode,
		Headers:    respHeaders,
		Body:       string(data),
		Truncated:  truncated,
		DurationMs: time.Since(started).Milliseconds(),
	}, nil
}

// HTTPDispatcher adapts HTTPManager into executor.Dispatcher for the
// mcp_http_manager tool.
type HTTPDispatcher struct {
	Manager  HTTPManager
	Profiles *profiles.Store
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, action, profileName string, args map[string]interface{}) (interface{}, error) {
	if action != "request" {
		return nil, errs.New(errs.KindInvalidParams, errs.CodeUnknownAction, fmt.Sprintf("unknown action %q for mcp_http_manager", action))
	}
	method, _ := args["method"].(string)
	url, _ := args["url"].(string)
	if method == "" || url == "" {
		return nil, errs.InvalidParams("HTTP_REQUEST_INCOMPLETE", "method and url are required")
	}
	body, _ := args["body"].(string)

	headers := map[string]string{}
	if raw, ok := args["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	if profileName != "" && d.Profiles != nil {
		if p, err := d.Profiles.GetInternal(profileName); err == nil {
			if base, ok := p.Data["base_url"].(string); ok && base != "" && !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				url = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(url, "/")
			}
			if extra, ok := p.Data["headers"].(map[string]interface{}); ok {
				for k, v := range extra {
					if s, ok := v.(string); ok {
						if _, set := headers[k]; !set {
							headers[k] = s
						}
					}
				}
			}
			if token, ok := p.Secrets["bearer_token"].(string); ok && token != "" {
				if _, set := headers["Authorization"]; !set {
					headers["Authorization"] = "Bearer " + token
				}
			}
		}
	}

	return d.Manager.Request(ctx, method, url, headers, body)
}
