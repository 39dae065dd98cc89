package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/klaus/internal/config"
	"github.com/Iron-Ham/klaus/internal/detect"
	"github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/library"
	"github.com/Iron-Ham/klaus/internal/retry"
)

// newTestServer replies with the given texts in order; a text starting with
// "status:" is sent as that HTTP status instead.
func newTestServer(t *testing.T, replies ...string) (*httptest.Server, *int32, *[]messagesRequest) {
	t.Helper()
	var calls int32
	var requests []messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req messagesRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		requests = append(requests, req)

		n := int(atomic.AddInt32(&calls, 1)) - 1
		if n >= len(replies) {
			n = len(replies) - 1
		}
		switch reply := replies[n]; reply {
		case "status:529":
			w.WriteHeader(529)
			_, _ = w.Write([]byte(`{"error": {"type": "overloaded_error", "message": "Overloaded"}}`))
		case "status:401":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": {"type": "authentication_error", "message": "bad key"}}`))
		default:
			_ = json.NewEncoder(w).Encode(messagesResponse{Content: []contentBlock{{Type: "text", Text: reply}}})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &requests
}

func newTestMessagesClient(t *testing.T, srv *httptest.Server) *MessagesClient {
	t.Helper()
	c, err := NewMessagesClient(config.AIConfig{APIModel: "claude-test", MaxRetries: 3}, nil,
		WithAPIKey("test-key"), WithEndpoint(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	c.policy = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	return c
}

func TestNewMessagesClient_RequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewMessagesClient(config.AIConfig{}, nil)
	assert.ErrorIs(t, err, errors.ErrAIUnavailable)
}

func TestAnalyzeSchema(t *testing.T) {
	srv, _, requests := newTestServer(t, "# Orders\n- id: integer")
	c := newTestMessagesClient(t, srv)

	out, err := c.AnalyzeSchema(context.Background(), `{"id": 1}`, "# Old", "id is a string")
	require.NoError(t, err)
	assert.Equal(t, "# Orders\n- id: integer", out)

	require.Len(t, *requests, 1)
	req := (*requests)[0]
	assert.Equal(t, "claude-test", req.Model)
	assert.Contains(t, req.Messages[0].Content, `{"id": 1}`)
	assert.Contains(t, req.Messages[0].Content, "id is a string")
	assert.NotEmpty(t, req.System)
}

func TestComplete_RetriesOverloaded(t *testing.T) {
	srv, calls, _ := newTestServer(t, "status:529", "status:529", "ok")
	c := newTestMessagesClient(t, srv)

	out, err := c.AnalyzeSchema(context.Background(), "x", "", "")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestComplete_AuthFailureNotRetried(t *testing.T) {
	srv, calls, _ := newTestServer(t, "status:401")
	c := newTestMessagesClient(t, srv)

	_, err := c.AnalyzeSchema(context.Background(), "x", "", "")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	var aiErr *errors.AIError
	assert.True(t, errors.As(err, &aiErr))
}

func TestMatchTemplate(t *testing.T) {
	candidates := []library.Template{
		{ID: "postgres-sink", Name: "PostgreSQL", Kind: "sink"},
		{ID: "s3-sink", Name: "Amazon S3", Kind: "sink"},
	}

	tests := []struct {
		reply string
		want  string
	}{
		{"s3-sink", "s3-sink"},
		{"`POSTGRES-SINK`.", "postgres-sink"},
		{"NONE", ""},
		{"mysql-sink", ""},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			srv, _, _ := newTestServer(t, tt.reply)
			c := newTestMessagesClient(t, srv)
			got, err := c.MatchTemplate(context.Background(), "bucket", candidates)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchTemplate_NoCandidates(t *testing.T) {
	srv, calls, _ := newTestServer(t, "x")
	c := newTestMessagesClient(t, srv)
	got, err := c.MatchTemplate(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestClassify(t *testing.T) {
	srv, _, _ := newTestServer(t, "Here you go: {\"has_error\": true, \"reason\": \"connection refused\"}")
	c := newTestMessagesClient(t, srv)

	v, err := c.Classify(context.Background(), "ConnectionRefused", "print(1)")
	require.NoError(t, err)
	assert.True(t, v.HasError)
	assert.Equal(t, "connection refused", v.Reason)
	assert.Equal(t, detect.SourceAI, v.Source)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		reply   string
		want    bool
		wantErr bool
	}{
		{`{"has_error": false, "reason": "ok"}`, false, false},
		{"```json\n{\"has_error\": true}\n```", true, false},
		{`no idea`, false, true},
		{`{"reason": "missing flag"}`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			v, err := parseVerdict(tt.reply)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.HasError)
		})
	}
}

func TestClassify_FallbackOnAPIFailure(t *testing.T) {
	srv, _, _ := newTestServer(t, "status:401")
	c := newTestMessagesClient(t, srv)
	f := detect.NewFallback(c, nil)

	v, err := f.Classify(context.Background(), "Traceback (most recent call last):", "")
	require.NoError(t, err)
	assert.True(t, v.HasError)
	assert.Equal(t, detect.SourceKeyword, v.Source)
}
