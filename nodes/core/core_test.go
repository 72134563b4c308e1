package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/runtime/credential"
	"github.com/flowmesh/flowmesh/runtime/node"
)

func TestRegisterAll(t *testing.T) {
	r := node.NewRegistry()
	RegisterAll(r)
	assert.Equal(t, []string{
		"executeWorkflow", "httpRequest", "if", "manualTrigger", "noOp",
		"scheduleTrigger", "set", "switch", "webhookTrigger", "workflowCallTrigger",
	}, r.Types())
}

func items(payloads ...map[string]any) []node.Item {
	out := make([]node.Item, len(payloads))
	for i, p := range payloads {
		out[i] = node.Item{JSON: p}
	}
	return out
}

func TestTriggersPassThrough(t *testing.T) {
	for _, def := range []*node.Definition{ManualTrigger(), WebhookTrigger(), ScheduleTrigger(), WorkflowCallTrigger()} {
		in := items(map[string]any{"k": "v"})
		res, err := def.Execute(context.Background(), &node.ExecuteContext{
			Inputs: map[string][]node.Item{node.MainPort: in},
		})
		require.NoError(t, err, def.Type)
		assert.Equal(t, in, res.Outputs[node.MainPort], def.Type)
		assert.Equal(t, node.CapabilityTrigger, def.Capability, def.Type)
	}
}

func TestSetMergesFields(t *testing.T) {
	res, err := Set().Execute(context.Background(), &node.ExecuteContext{
		Parameters: map[string]any{"values": map[string]any{"added": true}},
		Inputs:     map[string][]node.Item{node.MainPort: items(map[string]any{"kept": 1})},
	})
	require.NoError(t, err)
	out := res.Outputs[node.MainPort]
	require.Len(t, out, 1)
	assert.Equal(t, 1, out[0].JSON["kept"])
	assert.Equal(t, true, out[0].JSON["added"])
}

func TestSetKeepOnlySet(t *testing.T) {
	res, err := Set().Execute(context.Background(), &node.ExecuteContext{
		Parameters: map[string]any{
			"values":      map[string]any{"only": "this"},
			"keepOnlySet": true,
		},
		Inputs: map[string][]node.Item{node.MainPort: items(map[string]any{"dropped": 1})},
	})
	require.NoError(t, err)
	out := res.Outputs[node.MainPort]
	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{"only": "this"}, out[0].JSON)
}

func TestSetWithoutInputEmitsOneItem(t *testing.T) {
	res, err := Set().Execute(context.Background(), &node.ExecuteContext{
		Parameters: map[string]any{"values": map[string]any{"constant": 7}},
		Inputs:     map[string][]node.Item{},
	})
	require.NoError(t, err)
	require.Len(t, res.Outputs[node.MainPort], 1)
	assert.Equal(t, 7, res.Outputs[node.MainPort][0].JSON["constant"])
}

func TestIfRoutesByCondition(t *testing.T) {
	in := items(map[string]any{"n": 1})
	res, err := If().Execute(context.Background(), &node.ExecuteContext{
		Parameters: map[string]any{"condition": true},
		Inputs:     map[string][]node.Item{node.MainPort: in},
	})
	require.NoError(t, err)
	assert.Equal(t, in, res.Outputs["true"])
	assert.NotContains(t, res.Outputs, "false")

	res, err = If().Execute(context.Background(), &node.ExecuteContext{
		Parameters: map[string]any{"condition": false},
		Inputs:     map[string][]node.Item{node.MainPort: in},
	})
	require.NoError(t, err)
	assert.Equal(t, in, res.Outputs["false"])
}

func TestIfRejectsNonBoolCondition(t *testing.T) {
	_, err := If().Execute(context.Background(), &node.ExecuteContext{
		Parameters: map[string]any{"condition": "yes"},
	})
	assert.Error(t, err)
}

func TestSwitchMatchesRule(t *testing.T) {
	in := items(map[string]any{"k": 1})
	ec := &node.ExecuteContext{
		Parameters: map[string]any{
			"value": "premium",
			"rules": []any{
				map[string]any{"value": "basic", "output": "low"},
				map[string]any{"value": "premium", "output": "high"},
			},
		},
		Inputs: map[string][]node.Item{node.MainPort: in},
	}
	res, err := Switch().Execute(context.Background(), ec)
	require.NoError(t, err)
	assert.Equal(t, in, res.Outputs["high"])
}

func TestSwitchFallsBack(t *testing.T) {
	in := items(map[string]any{"k": 1})
	res, err := Switch().Execute(context.Background(), &node.ExecuteContext{
		Parameters: map[string]any{
			"value": "unknown",
			"rules": []any{map[string]any{"value": "basic", "output": "low"}},
		},
		Inputs: map[string][]node.Item{node.MainPort: in},
	})
	require.NoError(t, err)
	assert.Equal(t, in, res.Outputs["fallback"])
}

func TestHTTPRequestNode(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	res, err := HTTPRequest().Execute(context.Background(), &node.ExecuteContext{
		Parameters: map[string]any{"url": srv.URL, "method": http.MethodGet},
		Credentials: map[string]*credential.Credential{
			"auth": {Type: credential.TypeAPIKey, Data: map[string]any{"apiKey": "k1"}},
		},
	})
	require.NoError(t, err)
	out := res.Outputs[node.MainPort]
	require.Len(t, out, 1)
	assert.Equal(t, http.StatusOK, out[0].JSON["statusCode"])
	body := out[0].JSON["body"].(map[string]any)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "Bearer k1", gotAuth)
}

func TestHTTPRequestRequiresURL(t *testing.T) {
	_, err := HTTPRequest().Execute(context.Background(), &node.ExecuteContext{Parameters: map[string]any{}})
	assert.Error(t, err)
}

type stubSub struct {
	gotWorkflowID string
	out           []node.Item
	err           error
}

func (s *stubSub) RunWorkflow(_ context.Context, workflowID string, _ []node.Item) ([]node.Item, error) {
	s.gotWorkflowID = workflowID
	return s.out, s.err
}

func TestExecuteWorkflowDelegatesToSubRunner(t *testing.T) {
	sub := &stubSub{out: items(map[string]any{"fromChild": true})}
	res, err := ExecuteWorkflow().Execute(context.Background(), &node.ExecuteContext{
		Parameters: map[string]any{"workflowId": "child-1"},
		Inputs:     map[string][]node.Item{node.MainPort: items(map[string]any{"n": 1})},
		Sub:        sub,
	})
	require.NoError(t, err)
	assert.Equal(t, "child-1", sub.gotWorkflowID)
	assert.Equal(t, sub.out, res.Outputs[node.MainPort])
}

func TestExecuteWorkflowWithoutSubRunner(t *testing.T) {
	_, err := ExecuteWorkflow().Execute(context.Background(), &node.ExecuteContext{
		Parameters: map[string]any{"workflowId": "child-1"},
	})
	assert.Error(t, err)
}
