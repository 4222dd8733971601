package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/grts-huc-etl/internal/adapter/hucsource"
)

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+routePrefix+"{huc12}", handleProjects(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return mux
}

func TestHandleProjects(t *testing.T) {
	mux := newMux()

	tests := []struct {
		huc12      string
		wantStatus int
		wantJSON   bool
	}{
		{"010100020101", http.StatusOK, true},
		{"010700030198", http.StatusServiceUnavailable, false},
		{"010700060299", http.StatusNotFound, true},
	}
	for _, tt := range tests {
		t.Run(tt.huc12, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, routePrefix+tt.huc12, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantJSON, json.Valid(rec.Body.Bytes()))
		})
	}
}

func TestProjectsForIsDeterministic(t *testing.T) {
	a := projectsFor("010100020101")
	b := projectsFor("010100020101")
	assert.Equal(t, a, b)
	for _, item := range a {
		assert.Equal(t, "010100020101", item["huc_12"])
		assert.Contains(t, item, "project_start_date")
	}
}

func TestWriteInputFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeInputFiles(dir))

	codes, err := hucsource.Load(filepath.Join(dir, "hucs.csv"))
	require.NoError(t, err)
	require.Len(t, codes, len(mockHUCs))
	assert.Equal(t, "010100020101", codes[0].HUC12)
	assert.Equal(t, "ME", codes[0].Metadata["state"])

	header, err := os.ReadFile(filepath.Join(dir, "header.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(header), "project_start_date;project_start_date_text")
}
