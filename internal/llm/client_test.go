package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/leadflow/internal/state"
	"github.com/Kocoro-lab/leadflow/internal/tools"
)

// chatServer replays canned chat completion messages in order and records requests.
type chatServer struct {
	mu       sync.Mutex
	replies  []string
	requests []map[string]any
}

func (s *chatServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))

		s.mu.Lock()
		s.requests = append(s.requests, req)
		idx := len(s.requests) - 1
		s.mu.Unlock()

		if idx >= len(s.replies) {
			http.Error(w, `{"error":{"message":"no more replies"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"gpt-3.5-turbo","choices":[{"index":0,"finish_reason":"stop","message":`+s.replies[idx]+`}]}`)
	}
}

func newTestClient(t *testing.T, replies ...string) (*Client, *chatServer) {
	cs := &chatServer{replies: replies}
	srv := httptest.NewServer(cs.handler(t))
	t.Cleanup(srv.Close)
	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/", Timeout: 5 * time.Second, MaxToolRounds: 3}, zaptest.NewLogger(t))
	return c, cs
}

type echoTool struct {
	fail bool
	seen []string
}

func (e *echoTool) Name() string               { return "create_zoho_lead" }
func (e *echoTool) Description() string        { return "Create a lead" }
func (e *echoTool) Parameters() map[string]any { return tools.LeadSchema() }
func (e *echoTool) Invoke(_ context.Context, args json.RawMessage) state.Result {
	e.seen = append(e.seen, string(args))
	if e.fail {
		return state.Failure("Failed to create Zoho lead: boom")
	}
	return state.Success("Successfully created Zoho lead: {}")
}

func TestGenerate(t *testing.T) {
	c, cs := newTestClient(t, `{"role":"assistant","content":"[\"create_zoho_lead\"]"}`)

	out, err := c.Generate(context.Background(), "plan this")
	require.NoError(t, err)
	assert.Equal(t, `["create_zoho_lead"]`, out)

	require.Len(t, cs.requests, 1)
	assert.Equal(t, "gpt-3.5-turbo", cs.requests[0]["model"])
	msgs := cs.requests[0]["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestGenerateServerError(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Generate(context.Background(), "plan this")
	assert.Error(t, err)
}

func TestRunWithToolsCallsTool(t *testing.T) {
	c, cs := newTestClient(t,
		`{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"create_zoho_lead","arguments":"{\"firstName\":\"Ada\"}"}}]}`,
		`{"role":"assistant","content":"Lead created."}`,
	)
	tool := &echoTool{}
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tool))

	out, calls, err := c.RunWithTools(context.Background(), "system", "create a lead for Ada", reg)
	require.NoError(t, err)
	assert.Equal(t, "Lead created.", out)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.True(t, calls[0].Result.OK())
	assert.Equal(t, []string{`{"firstName":"Ada"}`}, tool.seen)

	require.Len(t, cs.requests, 2)
	toolsSent := cs.requests[0]["tools"].([]any)
	require.Len(t, toolsSent, 1)
	fn := toolsSent[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "create_zoho_lead", fn["name"])

	second := cs.requests[1]["messages"].([]any)
	require.Len(t, second, 4)
	last := second[3].(map[string]any)
	assert.Equal(t, "tool", last["role"])
	assert.Equal(t, "call_1", last["tool_call_id"])
}

func TestRunWithToolsRoundLimit(t *testing.T) {
	call := `{"role":"assistant","content":null,"tool_calls":[{"id":"call_x","type":"function","function":{"name":"create_zoho_lead","arguments":"{}"}}]}`
	c, _ := newTestClient(t, call, call, call)
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(&echoTool{fail: true}))

	_, calls, err := c.RunWithTools(context.Background(), "system", "input", reg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolRoundsExceeded))
	assert.Len(t, calls, 3)
	assert.False(t, calls[2].Result.OK())
}
