package crm

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
	"go.uber.org/zap"

	"github.com/upb/activity-sync/config"
	"github.com/upb/activity-sync/services"
)

type capturedRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  struct {
		Service string            `json:"service"`
		Method  string            `json:"method"`
		Args    []json.RawMessage `json:"args"`
	} `json:"params"`
	ID string `json:"id"`
}

type odooServer struct {
	*httptest.Server
	authCalls    atomic.Int32
	executeCalls atomic.Int32
	handle       func(w http.ResponseWriter, req capturedRequest)
}

func newOdooServer(t *testing.T, handle func(w http.ResponseWriter, req capturedRequest)) *odooServer {
	t.Helper()
	s := &odooServer{handle: handle}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jsonrpc", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req capturedRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, "call", req.Method)
		assert.NotEmpty(t, req.ID)

		if req.Params.Service == "common" {
			s.authCalls.Add(1)
		} else {
			s.executeCalls.Add(1)
		}
		s.handle(w, req)
	}))
	t.Cleanup(s.Close)
	return s
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": "1", "result": result})
}

func writeFault(w http.ResponseWriter, code int, name, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      "1",
		"error": map[string]any{
			"code":    code,
			"message": "Odoo Server Error",
			"data":    map[string]any{"name": name, "message": message},
		},
	})
}

func newTestClient(url string) *Client {
	return NewClient(config.OdooConfig{
		URL:            url + "/",
		Database:       "crm",
		Username:       "bot@example.com",
		APIKey:         "key",
		RequestTimeout: time.Second,
	}, zap.NewNop())
}

func TestClient_Call(t *testing.T) {
	server := newOdooServer(t, func(w http.ResponseWriter, req capturedRequest) {
		switch req.Params.Service {
		case "common":
			assert.Equal(t, "authenticate", req.Params.Method)
			assert.JSONEq(t, `"crm"`, string(req.Params.Args[0]))
			assert.JSONEq(t, `"bot@example.com"`, string(req.Params.Args[1]))
			writeResult(w, 7)
		case "object":
			assert.Equal(t, "execute_kw", req.Params.Method)
			if !assert.Len(t, req.Params.Args, 7) {
				writeFault(w, 200, "TypeError", "bad arity")
				return
			}
			assert.JSONEq(t, `7`, string(req.Params.Args[1]))
			assert.JSONEq(t, `"res.partner"`, string(req.Params.Args[3]))
			assert.JSONEq(t, `"search_read"`, string(req.Params.Args[4]))
			assert.JSONEq(t, `[[["email","=","a@b.c"]]]`, string(req.Params.Args[5]))
			assert.JSONEq(t, `{"fields":["id"]}`, string(req.Params.Args[6]))
			writeResult(w, []map[string]any{{"id": 42}})
		}
	})

	client := newTestClient(server.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		raw, err := client.Call(ctx, "res.partner", "search_read",
			[]any{Where(Eq("email", "a@b.c"))}, map[string]any{"fields": []string{"id"}})
		require.NoError(t, err)
		assert.JSONEq(t, `[{"id":42}]`, string(raw))
	}

	assert.Equal(t, int32(1), server.authCalls.Load(), "session should be reused")
	assert.Equal(t, int32(3), server.executeCalls.Load())
}

func TestClient_Call_ReauthenticatesOnce(t *testing.T) {
	var rejected atomic.Bool
	server := newOdooServer(t, func(w http.ResponseWriter, req capturedRequest) {
		if req.Params.Service == "common" {
			writeResult(w, 7)
			return
		}
		if !rejected.Swap(true) {
			writeFault(w, 100, "odoo.http.SessionExpiredException", "Session expired")
			return
		}
		writeResult(w, true)
	})

	client := newTestClient(server.URL)
	_, err := client.Call(context.Background(), "res.partner", "write", []any{[]int64{1}, map[string]any{}}, nil)

	require.NoError(t, err)
	assert.Equal(t, int32(2), server.authCalls.Load())
	assert.Equal(t, int32(2), server.executeCalls.Load())
}

func TestClient_Call_PersistentAuthRejection(t *testing.T) {
	server := newOdooServer(t, func(w http.ResponseWriter, req capturedRequest) {
		if req.Params.Service == "common" {
			writeResult(w, 7)
			return
		}
		writeFault(w, 200, "odoo.exceptions.AccessDenied", "Access Denied")
	})

	client := newTestClient(server.URL)
	_, err := client.Call(context.Background(), "res.partner", "read", []any{[]int64{1}}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrCrmUnavailable)
	assert.Equal(t, int32(2), server.executeCalls.Load(), "retried exactly once")
}

func TestClient_Call_Fault(t *testing.T) {
	server := newOdooServer(t, func(w http.ResponseWriter, req capturedRequest) {
		if req.Params.Service == "common" {
			writeResult(w, 7)
			return
		}
		writeFault(w, 200, "builtins.ValueError", "Invalid field 'x_unknown' on model 'res.partner'")
	})

	client := newTestClient(server.URL)
	_, err := client.Call(context.Background(), "res.partner", "write", nil, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrCrmRejected)
	assert.NotErrorIs(t, err, services.ErrCrmUnavailable)

	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "builtins.ValueError", fault.Name)
	assert.Contains(t, fault.Message, "x_unknown")
	assert.Equal(t, int32(1), server.executeCalls.Load())
}

func TestClient_Call_Unavailable(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := newOdooServer(t, func(w http.ResponseWriter, req capturedRequest) {
			http.Error(w, "bad gateway", http.StatusBadGateway)
		})

		_, err := newTestClient(server.URL).Call(context.Background(), "res.partner", "read", nil, nil)
		assert.ErrorIs(t, err, services.ErrCrmUnavailable)
	})

	t.Run("refused credentials", func(t *testing.T) {
		server := newOdooServer(t, func(w http.ResponseWriter, req capturedRequest) {
			writeResult(w, false)
		})

		_, err := newTestClient(server.URL).Call(context.Background(), "res.partner", "read", nil, nil)
		assert.ErrorIs(t, err, services.ErrCrmUnavailable)
		assert.Equal(t, int32(0), server.executeCalls.Load())
	})

	t.Run("deadline", func(t *testing.T) {
		server := newOdooServer(t, func(w http.ResponseWriter, req capturedRequest) {
			time.Sleep(200 * time.Millisecond)
			writeResult(w, 7)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := newTestClient(server.URL).Call(ctx, "res.partner", "read", nil, nil)
		assert.ErrorIs(t, err, services.ErrCrmUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := newTestClient("http://127.0.0.1:1").Call(context.Background(), "res.partner", "read", nil, nil)
		assert.ErrorIs(t, err, services.ErrCrmUnavailable)
	})
}

func TestFault_IsAuthRejection(t *testing.T) {
	assert.True(t, (&Fault{Code: 100}).IsAuthRejection())
	assert.True(t, (&Fault{Code: 200, Name: "odoo.exceptions.AccessDenied"}).IsAuthRejection())
	assert.False(t, (&Fault{Code: 200, Name: "odoo.exceptions.ValidationError"}).IsAuthRejection())
}
