package action

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/compozy/autoflow/engine/core"
	"github.com/compozy/autoflow/pkg/logger"
	"github.com/go-resty/resty/v2"
)

const (
	TypeSet         = "set"
	TypeLog         = "log"
	TypeHTTPRequest = "http_request"
)

// RegisterBuiltins adds the engine's built-in actions to r.
func RegisterBuiltins(r *Registry, client *resty.Client) error {
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	builtins := map[string]Action{
		TypeSet:         Func(setAction),
		TypeLog:         Func(logAction),
		TypeHTTPRequest: &HTTPAction{client: client},
	}
	for name, a := range builtins {
		if err := r.Register(name, a); err != nil {
			return err
		}
	}
	return nil
}

// setAction returns its params so they are merged into the context.
func setAction(_ context.Context, params map[string]any, _ map[string]any) (map[string]any, error) {
	return core.CloneMap(params), nil
}

func logAction(ctx context.Context, params map[string]any, _ map[string]any) (map[string]any, error) {
	msg, _ := params["message"].(string)
	if msg == "" {
		msg = "workflow log"
	}
	keyvals := make([]any, 0, 2*len(params))
	for k, v := range params {
		if k == "message" || k == "level" {
			continue
		}
		keyvals = append(keyvals, k, v)
	}
	log := logger.FromContext(ctx)
	switch level, _ := params["level"].(string); strings.ToLower(level) {
	case "debug":
		log.Debug(msg, keyvals...)
	case "warn":
		log.Warn(msg, keyvals...)
	case "error":
		log.Error(msg, keyvals...)
	default:
		log.Info(msg, keyvals...)
	}
	return nil, nil
}

// NewHTTPClient builds the resty client used by http_request actions.
func NewHTTPClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryCondition)
}

// retryCondition retries network errors and transient status codes
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

// HTTPAction calls an HTTP endpoint. Params: url (required), method, headers,
// body, output_key. The decoded response is stored under output_key
// (default "http_response") as {status, body}.
type HTTPAction struct {
	client *resty.Client
}

func NewHTTPAction(client *resty.Client) *HTTPAction {
	return &HTTPAction{client: client}
}

func (a *HTTPAction) Execute(ctx context.Context, params map[string]any, _ map[string]any) (map[string]any, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return nil, core.Permanent(fmt.Errorf("http_request: url is required"))
	}
	method := http.MethodPost
	if m, ok := params["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	req := a.client.R().SetContext(ctx)
	if headers, ok := params["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.SetHeader(k, fmt.Sprint(v))
		}
	}
	if body, ok := params["body"]; ok && body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	var decoded any
	req.SetResult(&decoded)
	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("http_request %s %s: %w", method, url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("http_request %s %s: unexpected status %d", method, url, resp.StatusCode())
	}
	if decoded == nil && len(resp.Body()) > 0 {
		decoded = string(resp.Body())
	}
	key, _ := params["output_key"].(string)
	if key == "" {
		key = "http_response"
	}
	return map[string]any{
		key: map[string]any{
			"status": resp.StatusCode(),
			"body":   decoded,
		},
	}, nil
}
