package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"equipment-diagnosis/internal/readings/interfaces/csvimport"
)

func TestGenerate_ParsesAsUpload(t *testing.T) {
	cfg := config{equipmentPrefix: "EQ-", equipmentCount: 3, hours: 4, failureRate: 0.5, labelled: true, seed: 7}
	var buf bytes.Buffer
	rows, err := generate(&buf, cfg, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 12, rows)

	parsed, err := csvimport.Parse(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, parsed, 12)
	for _, row := range parsed {
		require.NotNil(t, row.FailureType)
	}
	require.Equal(t, "EQ-3", parsed[2].EquipmentID)
}

func TestGenerate_Deterministic(t *testing.T) {
	cfg := config{equipmentPrefix: "M", equipmentCount: 2, hours: 3, failureRate: 0.2, seed: 42}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var a, b bytes.Buffer
	_, err := generate(&a, cfg, start)
	require.NoError(t, err)
	_, err = generate(&b, cfg, start)
	require.NoError(t, err)
	require.Equal(t, a.String(), b.String())
	require.True(t, strings.HasPrefix(a.String(), "timestamp,equipment_id,temp,vibration,pressure\n"))
}

func TestUpload_SendsMultipart(t *testing.T) {
	var gotAuth string
	var gotFile []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		file, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotFile, _ = io.ReadAll(file)
		_, _ = w.Write([]byte(`{"rows_processed":1}`))
	}))
	defer server.Close()

	body, err := upload(context.Background(), server.URL+"/", "tkn", []byte("a,b\n"))
	require.NoError(t, err)
	require.Equal(t, `{"rows_processed":1}`, body)
	require.Equal(t, "Bearer tkn", gotAuth)
	require.Equal(t, "a,b\n", string(gotFile))
}

func TestRootCmd_WritesStdout(t *testing.T) {
	cmd := newRootCmd(zap.NewNop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--equipment-count", "2", "--hours", "1", "--start-date", "2024-01-01", "--labelled"})
	require.NoError(t, cmd.Execute())

	rows, err := csvimport.Parse(out.Bytes())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rows[0].Timestamp)
}

func TestRootCmd_RejectsBadFlags(t *testing.T) {
	cmd := newRootCmd(zap.NewNop())
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--failure-rate", "2"})
	require.Error(t, cmd.Execute())
}
