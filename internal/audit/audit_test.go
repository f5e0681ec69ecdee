package audit

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalize_FillsDefaults(t *testing.T) {
	entry := normalize(Entry{Action: ActionUpload, Metadata: json.RawMessage(`{"rows":3}`)})
	require.True(t, strings.HasPrefix(entry.ID, "audit-"))
	require.False(t, entry.CreatedAt.IsZero())
	require.Equal(t, DigestJSON([]byte(`{"rows":3}`)), entry.PayloadDigest)
	require.Len(t, entry.PayloadDigest, 64)
	require.Empty(t, DigestJSON(nil))
}

func TestFromRequest_ClientFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/upload_csv", nil)
	req.RemoteAddr = "10.0.0.5:4312"
	req.Header.Set("User-Agent", "curl/8")
	entry := FromRequest(req, Entry{Action: ActionUpload})
	require.Equal(t, "10.0.0.5", entry.IP)
	require.Equal(t, "curl/8", entry.UserAgent)

	req.Header.Set("X-Forwarded-For", "192.168.1.1, 10.0.0.1")
	require.Equal(t, "192.168.1.1", FromRequest(req, Entry{}).IP)
}

func TestZapLogger_WritesEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := NewZapLogger(zap.New(core))

	err := logger.Log(context.Background(), Entry{
		Actor:        "anonymous",
		Action:       ActionAnalyze,
		ResourceType: "equipment",
		ResourceID:   "EQ-9",
	})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	logged := logs.All()[0]
	require.Equal(t, ActionAnalyze, logged.Message)
	require.Equal(t, "EQ-9", logged.ContextMap()["resource_id"])
}

func TestRepository_NilDB(t *testing.T) {
	require.Nil(t, NewRepository(nil))
	var repo *Repository
	require.Error(t, repo.Log(context.Background(), Entry{}))
}
