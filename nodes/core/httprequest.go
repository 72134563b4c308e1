package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowmesh/flowmesh/runtime/credential"
	"github.com/flowmesh/flowmesh/runtime/node"
)

const (
	defaultHTTPTimeout  = 30 * time.Second
	maxResponseBodySize = 10 << 20
)

// HTTPRequest performs an HTTP call and emits one item with the response
// status, headers, and decoded body. Attached credentials are applied to the
// outgoing request according to their type.
func HTTPRequest() *node.Definition {
	return &node.Definition{
		Type:        "httpRequest",
		DisplayName: "HTTP Request",
		Group:       []string{"network"},
		Capability:  node.CapabilityAction,
		Inputs:      []string{node.MainPort},
		Outputs:     []string{node.MainPort},
		Properties: []node.Property{
			{Name: "url", DisplayName: "URL", Type: node.PropertyString, Required: true},
			{Name: "method", DisplayName: "Method", Type: node.PropertyOptions,
				Options: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
				Default: http.MethodGet},
			{Name: "headers", DisplayName: "Headers", Type: node.PropertyJSON},
			{Name: "body", DisplayName: "Body", Type: node.PropertyJSON},
			{Name: "timeoutMs", DisplayName: "Timeout (ms)", Type: node.PropertyNumber},
		},
		CredentialTypes: []node.CredentialSpec{
			{FieldName: "auth", AllowedTypes: []string{
				credential.TypeHTTPBasicAuth, credential.TypeHTTPHeaderAuth, credential.TypeAPIKey,
			}},
		},
		Execute: executeHTTPRequest,
	}
}

func executeHTTPRequest(ctx context.Context, ec *node.ExecuteContext) (*node.Result, error) {
	url := ec.StringParam("url", "")
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	method := ec.StringParam("method", http.MethodGet)

	var body io.Reader
	if raw, ok := ec.Parameters["body"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	timeout := defaultHTTPTimeout
	if ms, ok := ec.Parameters["timeoutMs"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := ec.Parameters["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}
	applyAuth(req, ec.Credentials["auth"])

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response of %s %s: %w", method, url, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}

	item := node.Item{JSON: map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    flattenResponseHeaders(resp.Header),
		"body":       decoded,
	}}
	return &node.Result{Outputs: map[string][]node.Item{node.MainPort: {item}}}, nil
}

// applyAuth decorates the outgoing request with the attached credential. The
// credential type decides the mechanism.
func applyAuth(req *http.Request, cred *credential.Credential) {
	if cred == nil {
		return
	}
	switch cred.Type {
	case credential.TypeHTTPBasicAuth:
		req.SetBasicAuth(cred.String("user"), cred.String("password"))
	case credential.TypeHTTPHeaderAuth:
		if name := cred.String("name"); name != "" {
			req.Header.Set(name, cred.String("value"))
		}
	case credential.TypeAPIKey:
		req.Header.Set("Authorization", "Bearer "+cred.String("apiKey"))
	}
}

func flattenResponseHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
