package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"name=Ada", "count=3", "flags=[1,2]", "raw={not json"})
	require.NoError(t, err)
	assert.Equal(t, "Ada", vars["name"])
	assert.Equal(t, float64(3), vars["count"])
	assert.Equal(t, []interface{}{float64(1), float64(2)}, vars["flags"])
	assert.Equal(t, "{not json", vars["raw"])

	empty, err := parseVars(nil)
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = parseVars([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseVars([]string{"=x"})
	assert.Error(t, err)
}

func ndjsonServer(t *testing.T, token string, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/execute", r.URL.Path)
		if token != "" {
			assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
		}
		var req protocol.ExecuteRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "helper", req.AgentID)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunExecPrintsContent(t *testing.T) {
	srv := ndjsonServer(t, "tok",
		`{"event":"status","data":{"status":"resolving"}}`,
		`{"event":"content","data":{"text":"hello"}}`,
		`{"event":"done","data":{"result":"hello","duration_ms":3}}`,
	)
	var out bytes.Buffer
	err := runExec(context.Background(), srv.URL+"/", "tok",
		protocol.ExecuteRequest{AgentID: "helper"}, false, &out)
	require.NoError(t, err)
	// The done result is not repeated once content was printed.
	assert.Equal(t, 1, bytes.Count(out.Bytes(), []byte("hello")))
}

func TestRunExecRawEchoesLines(t *testing.T) {
	line := `{"event":"done","data":{"result":"ok"}}`
	srv := ndjsonServer(t, "", line)
	var out bytes.Buffer
	err := runExec(context.Background(), srv.URL, "", protocol.ExecuteRequest{AgentID: "helper"}, true, &out)
	require.NoError(t, err)
	assert.Equal(t, line+"\n", out.String())
}

func TestRunExecErrorTerminal(t *testing.T) {
	srv := ndjsonServer(t, "", `{"event":"error","data":{"message":"not found"}}`)
	var out bytes.Buffer
	err := runExec(context.Background(), srv.URL, "", protocol.ExecuteRequest{AgentID: "helper"}, false, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRunExecMissingTerminal(t *testing.T) {
	srv := ndjsonServer(t, "", `{"event":"content","data":{"text":"partial"}}`)
	err := runExec(context.Background(), srv.URL, "", protocol.ExecuteRequest{AgentID: "helper"}, false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminal")
}

func TestRunExecNonJSONFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := runExec(context.Background(), srv.URL, "", protocol.ExecuteRequest{AgentID: "helper"}, false, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPrintEvent(t *testing.T) {
	var out bytes.Buffer
	printEvent(&out, protocol.Event{Event: protocol.EventToolUse, Data: map[string]interface{}{
		"tool": "call_api", "input": map[string]interface{}{"url": "https://x"},
	}})
	printEvent(&out, protocol.Event{Event: protocol.EventToolResult, Data: map[string]interface{}{
		"tool": "call_api", "result": "boom", "is_error": true,
	}})
	s := out.String()
	assert.Contains(t, s, `call_api {"url":"https://x"}`)
	assert.Contains(t, s, "✗ call_api: boom")
}
