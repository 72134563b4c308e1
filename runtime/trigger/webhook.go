package trigger

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/flowmesh/flowmesh/runtime/credential"
	"github.com/flowmesh/flowmesh/runtime/events"
	"github.com/flowmesh/flowmesh/runtime/execution"
	"github.com/flowmesh/flowmesh/runtime/flowerrors"
	"github.com/flowmesh/flowmesh/runtime/node"
	"github.com/flowmesh/flowmesh/runtime/workflow"
)

// Webhook authentication modes. The authentication parameter may also carry
// a credential id (UUID or CUID) directly; the mechanism is then derived from
// the resolved credential's type.
const (
	AuthNone       = "none"
	AuthBasic      = "basicAuth"
	AuthHeader     = "headerAuth"
	AuthQuery      = "queryAuth"
	AuthCredential = "credential"
)

// Webhook respond modes.
const (
	// RespondOnReceived acknowledges the request as soon as the execution
	// starts.
	RespondOnReceived = "onReceived"
	// RespondLastNode blocks the request and responds with the final node's
	// output.
	RespondLastNode = "lastNode"
)

type (
	// webhookEntry is one registered webhook route. It holds identifiers and
	// auth configuration only; the workflow itself is loaded when the route
	// fires.
	webhookEntry struct {
		workflowID   string
		nodeID       string
		method       string
		respondMode  string
		authMode     string
		credentialID string
		// inline holds legacy credentials embedded in node parameters,
		// normalized to the same keys the credential types use.
		inline map[string]string
	}

	// WebhookRequest is the transport-independent shape of an incoming
	// webhook call.
	WebhookRequest struct {
		// Method is the HTTP method.
		Method string
		// Headers are the request headers.
		Headers http.Header
		// Query are the request query parameters.
		Query url.Values
		// Body is the decoded JSON request body, nil when absent.
		Body any
		// Test marks editor test-mode requests (?test=true).
		Test bool
	}

	// WebhookResponse is what the transport should respond with.
	WebhookResponse struct {
		// StatusCode is the HTTP status to respond with.
		StatusCode int
		// Body is the JSON response payload.
		Body any
		// ExecutionID identifies the started execution.
		ExecutionID string
	}
)

// registerWebhook adds a route for the webhook trigger node. The route id is
// the node's path parameter, defaulting to the node id.
func (d *Dispatcher) registerWebhook(wf *workflow.Workflow, n *workflow.Node) error {
	path, _ := n.Parameters["path"].(string)
	if path == "" {
		path = n.ID
	}
	method, _ := n.Parameters["httpMethod"].(string)
	if method == "" {
		method = http.MethodPost
	}
	respondMode, _ := n.Parameters["respondMode"].(string)
	if respondMode == "" {
		respondMode = RespondOnReceived
	}
	authMode, _ := n.Parameters["authentication"].(string)
	if authMode == "" {
		authMode = AuthNone
	}

	entry := &webhookEntry{
		workflowID:  wf.ID,
		nodeID:      n.ID,
		method:      strings.ToUpper(method),
		respondMode: respondMode,
		authMode:    authMode,
	}
	switch {
	case authMode == AuthNone:
	case isCredentialRef(authMode):
		// The parameter carries the credential id itself; the mechanism is
		// decided by the credential's type when the route fires.
		entry.authMode = AuthCredential
		entry.credentialID = authMode
	case authMode == AuthBasic:
		entry.credentialID = n.Credentials[credential.TypeHTTPBasicAuth]
		entry.inline = inlineAuth(n.Parameters, "basicAuth", "user", "password")
	case authMode == AuthHeader:
		entry.credentialID = n.Credentials[credential.TypeHTTPHeaderAuth]
		entry.inline = inlineAuth(n.Parameters, "headerAuth", "name", "value")
	case authMode == AuthQuery:
		entry.credentialID = n.Credentials[credential.TypeWebhookQueryAuth]
		entry.inline = inlineAuth(n.Parameters, "queryAuth", "name", "value")
	default:
		return flowerrors.New(flowerrors.KindValidation,
			"webhook trigger %s in workflow %s has unknown authentication mode %q", n.ID, wf.ID, authMode)
	}
	if entry.authMode != AuthNone && entry.credentialID == "" && entry.inline == nil {
		return flowerrors.New(flowerrors.KindValidation,
			"webhook trigger %s in workflow %s requires %s but has no credential", n.ID, wf.ID, authMode)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.webhooks[path]; ok && existing.workflowID != wf.ID {
		return flowerrors.New(flowerrors.KindValidation,
			"webhook path %q is already registered by workflow %s", path, existing.workflowID)
	}
	d.webhooks[path] = entry
	return nil
}

// inlineAuth extracts legacy credentials embedded directly in the trigger
// node's parameters.
func inlineAuth(params map[string]any, key string, fields ...string) map[string]string {
	raw, ok := params[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		v, _ := raw[f].(string)
		if v == "" {
			return nil
		}
		out[f] = v
	}
	return out
}

// HandleWebhook processes an incoming webhook call: route lookup, method
// check, authentication, then execution start. Authentication failures are
// reported before any execution state exists, so failed requests leave no
// trace beyond the log.
func (d *Dispatcher) HandleWebhook(ctx context.Context, webhookID string, req *WebhookRequest) (*WebhookResponse, error) {
	d.mu.RLock()
	entry, ok := d.webhooks[webhookID]
	d.mu.RUnlock()
	if !ok {
		return nil, flowerrors.New(flowerrors.KindNotFound, "webhook %q is not registered", webhookID)
	}
	if entry.method != "*" && !strings.EqualFold(entry.method, req.Method) {
		return nil, flowerrors.New(flowerrors.KindMethodNotAllowed,
			"webhook %q does not accept %s", webhookID, req.Method)
	}
	if err := d.authenticate(ctx, entry, req); err != nil {
		d.logger.Info(ctx, "webhook authentication failed",
			"webhookId", webhookID, "workflowId", entry.workflowID, "mode", entry.authMode)
		return nil, err
	}

	executionID := uuid.NewString()
	item := node.Item{JSON: map[string]any{
		"body":    req.Body,
		"headers": flattenHeaders(req.Headers),
		"query":   flattenQuery(req.Query),
		"method":  req.Method,
		"path":    webhookID,
	}}

	if req.Test {
		// Published before the execution starts so editor listeners attached
		// to the workflow topic see every node event from the first one on.
		d.publish(events.WorkflowTopic(entry.workflowID), events.Event{
			Type:        events.TypeWebhookTestTriggered,
			WorkflowID:  entry.workflowID,
			ExecutionID: executionID,
			NodeID:      entry.nodeID,
			Data:        map[string]any{"webhookId": webhookID},
		})
	} else {
		d.publish(events.WorkflowTopic(entry.workflowID), events.Event{
			Type:        events.TypeWebhookTriggered,
			WorkflowID:  entry.workflowID,
			ExecutionID: executionID,
			NodeID:      entry.nodeID,
			Data:        map[string]any{"webhookId": webhookID},
		})
	}

	res, err := d.starter.Start(ctx, &StartRequest{
		WorkflowID:  entry.workflowID,
		StartNodeID: entry.nodeID,
		Mode:        execution.ModeWebhook,
		ExecutionID: executionID,
		TriggerData: []node.Item{item},
		Wait:        entry.respondMode == RespondLastNode,
	})
	if err != nil {
		return nil, err
	}

	if entry.respondMode == RespondLastNode {
		return &WebhookResponse{
			StatusCode:  http.StatusOK,
			Body:        lastNodeBody(res.LastOutput),
			ExecutionID: res.ExecutionID,
		}, nil
	}
	return &WebhookResponse{
		StatusCode: http.StatusOK,
		Body: map[string]any{
			"executionId": res.ExecutionID,
			"webhookId":   webhookID,
			"testMode":    req.Test,
		},
		ExecutionID: res.ExecutionID,
	}, nil
}

// lastNodeBody shapes the final node's items for the HTTP response: a single
// item responds as its object, multiple items as an array.
func lastNodeBody(items []node.Item) any {
	switch len(items) {
	case 0:
		return map[string]any{}
	case 1:
		return items[0].JSON
	default:
		arr := make([]any, len(items))
		for i, it := range items {
			arr[i] = it.JSON
		}
		return arr
	}
}

// authenticate validates the request against the entry's auth configuration.
// Value comparison is constant-time. Credential resolution failures fail
// closed as authentication errors.
func (d *Dispatcher) authenticate(ctx context.Context, entry *webhookEntry, req *WebhookRequest) error {
	denied := flowerrors.New(flowerrors.KindAuthentication, "webhook authentication failed")
	switch entry.authMode {
	case AuthNone:
		return nil
	case AuthCredential:
		if d.creds == nil {
			return denied
		}
		cred, err := d.creds.Resolve(ctx, entry.credentialID, nil)
		if err != nil {
			return denied
		}
		switch cred.Type {
		case credential.TypeHTTPBasicAuth:
			gotUser, gotPass, ok := parseBasicAuth(req.Headers.Get("Authorization"))
			if !ok {
				return denied
			}
			if !equalConstantTime(gotUser, credUser(cred)) || !equalConstantTime(gotPass, cred.String("password")) {
				return denied
			}
			return nil
		case credential.TypeHTTPHeaderAuth:
			name, value := cred.String("name"), cred.String("value")
			if name == "" || !equalConstantTime(req.Headers.Get(name), value) {
				return denied
			}
			return nil
		case credential.TypeWebhookQueryAuth:
			name, value := cred.String("name"), cred.String("value")
			if name == "" || !equalConstantTime(req.Query.Get(name), value) {
				return denied
			}
			return nil
		default:
			return denied
		}
	case AuthBasic:
		wantUser, wantPass, err := d.basicExpectation(ctx, entry)
		if err != nil {
			return denied
		}
		gotUser, gotPass, ok := parseBasicAuth(req.Headers.Get("Authorization"))
		if !ok {
			return denied
		}
		if !equalConstantTime(gotUser, wantUser) || !equalConstantTime(gotPass, wantPass) {
			return denied
		}
		return nil
	case AuthHeader:
		name, value, err := d.pairExpectation(ctx, entry, credential.TypeHTTPHeaderAuth)
		if err != nil || name == "" {
			return denied
		}
		if !equalConstantTime(req.Headers.Get(name), value) {
			return denied
		}
		return nil
	case AuthQuery:
		name, value, err := d.pairExpectation(ctx, entry, credential.TypeWebhookQueryAuth)
		if err != nil || name == "" {
			return denied
		}
		if !equalConstantTime(req.Query.Get(name), value) {
			return denied
		}
		return nil
	default:
		return denied
	}
}

func (d *Dispatcher) basicExpectation(ctx context.Context, entry *webhookEntry) (user, pass string, err error) {
	if entry.inline != nil {
		return entry.inline["user"], entry.inline["password"], nil
	}
	cred, err := d.creds.Resolve(ctx, entry.credentialID, []string{credential.TypeHTTPBasicAuth})
	if err != nil {
		return "", "", err
	}
	return credUser(cred), cred.String("password"), nil
}

// credUser reads the basic-auth user under either field spelling found in
// stored credentials.
func credUser(cred *credential.Credential) string {
	if u := cred.String("user"); u != "" {
		return u
	}
	return cred.String("username")
}

func (d *Dispatcher) pairExpectation(ctx context.Context, entry *webhookEntry, credType string) (name, value string, err error) {
	if entry.inline != nil {
		return entry.inline["name"], entry.inline["value"], nil
	}
	cred, err := d.creds.Resolve(ctx, entry.credentialID, []string{credType})
	if err != nil {
		return "", "", err
	}
	return cred.String("name"), cred.String("value"), nil
}

// isCredentialRef reports whether an authentication setting carries a
// credential id rather than a mode name: a UUID, or a CUID ("c" followed by
// at least 20 base36 characters).
func isCredentialRef(s string) bool {
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	if len(s) < 21 || s[0] != 'c' {
		return false
	}
	for _, r := range s[1:] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	user, pass, ok = strings.Cut(string(decoded), ":")
	return user, pass, ok
}

func equalConstantTime(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[strings.ToLower(k)] = vs[0]
		}
	}
	return out
}

func flattenQuery(q url.Values) map[string]any {
	out := make(map[string]any, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
