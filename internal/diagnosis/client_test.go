package diagnosis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func newChatServer(t *testing.T, status int, content string, seen chan<- chatRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if seen != nil {
			seen <- req
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "upstream unavailable", "type": "server_error"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientDiagnose_Structured(t *testing.T) {
	seen := make(chan chatRequest, 1)
	server := newChatServer(t, http.StatusOK, `{"status":"주의","diagnosis":"베어링 마모","recommendation":"윤활 점검"}`, seen)

	client := NewClient("test-key", WithBaseURL(server.URL))
	result := client.Diagnose(context.Background(), Input{EquipmentID: "EQ-9", Temp: 70.5, Vibration: 15.1, Pressure: 100.2})

	require.Equal(t, KindStructured, result.Kind)
	require.Equal(t, "주의", result.Status)
	require.Equal(t, "베어링 마모", result.Diagnosis)
	require.Equal(t, "윤활 점검", result.Recommendation)

	req := <-seen
	require.Equal(t, DefaultModel, req.Model)
	require.InDelta(t, 0.1, req.Temperature, 1e-6)
	require.Len(t, req.Messages, 2)
	require.Equal(t, "system", req.Messages[0].Role)
	require.Equal(t, systemPrompt, req.Messages[0].Content)
	require.Contains(t, req.Messages[1].Content, "장비 ID: EQ-9")
	require.Contains(t, req.Messages[1].Content, "온도: 70.5도")
	require.Contains(t, req.Messages[1].Content, "진동: 15.1Hz")
	require.Contains(t, req.Messages[1].Content, "압력: 100.2Pa")
}

func TestClientDiagnose_RawTextFallback(t *testing.T) {
	server := newChatServer(t, http.StatusOK, "장비 상태는 양호합니다.", nil)

	client := NewClient("test-key", WithBaseURL(server.URL), WithModel("solar-pro"))
	result := client.Diagnose(context.Background(), Input{EquipmentID: "EQ-1"})

	require.Equal(t, KindRawText, result.Kind)
	require.Equal(t, "장비 상태는 양호합니다.", result.Raw)
}

func TestClientDiagnose_UpstreamFailure(t *testing.T) {
	server := newChatServer(t, http.StatusInternalServerError, "", nil)

	client := NewClient("test-key", WithBaseURL(server.URL))
	result := client.Diagnose(context.Background(), Input{EquipmentID: "EQ-1"})

	require.Equal(t, KindUpstreamError, result.Kind)
	require.NotEmpty(t, result.Error)
}

func TestClientDiagnose_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client := NewClient("test-key", WithBaseURL(baseURL), WithTimeout(2*time.Second))
	result := client.Diagnose(context.Background(), Input{EquipmentID: "EQ-1"})

	require.Equal(t, KindUpstreamError, result.Kind)
	require.NotEmpty(t, result.Error)
}

func TestClientDiagnose_MissingKeySkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient("  ", WithBaseURL(server.URL))
	result := client.Diagnose(context.Background(), Input{EquipmentID: "EQ-1"})

	require.Equal(t, KindUpstreamError, result.Kind)
	require.Equal(t, missingKeyError, result.Error)
	require.Zero(t, calls.Load())

	body, err := json.Marshal(result)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `"error":"SOLAR_API_KEY not found"`), string(body))
}
