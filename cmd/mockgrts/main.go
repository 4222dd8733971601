// Command mockgrts serves deterministic GRTS-shaped responses so the ETL can
// be run locally without touching the EPA service. It can also write a
// matching HUC12 input list and delimited header file.
//
// Usage:
//
//	go run ./cmd/mockgrts -addr :8089 -write-inputs data/mock
//	API_BASE=http://localhost:8089/GetProjectsByHUC12/ \
//	  INPUT_FILE=data/mock/hucs.csv CSV_HEADER_FILE=data/mock/header.txt \
//	  LEGACY_TLS=false go run ./cmd/grts
//
// Codes ending in 98 answer 503 with an HTML page; codes ending in 99 answer
// 404 with an empty item list. Every other code gets 0-4 projects whose start
// dates cover the normalizer's clamping cases.
package main

import (
	"errors"
	"flag"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const routePrefix = "/GetProjectsByHUC12/"

// mockHUCs is a slice of Maine and New Hampshire HUC12s plus the two error codes.
var mockHUCs = []struct {
	huc12, state string
}{
	{"010100020101", "ME"},
	{"010100020102", "ME"},
	{"010100020103", "ME"},
	{"010300010201", "ME"},
	{"010600020304", "NH"},
	{"010700010405", "NH"},
	{"010700030198", "NH"},
	{"010700060299", "NH"},
}

var headerColumns = []string{
	"prj_seq", "huc_12", "title", "project_start_date", "project_start_date_text",
	"section_319_funds", "total_budget", "status",
}

var startDates = []any{
	"6/30/2014",  // in range
	"13/45/2024", // unparseable
	"1/1/1950",   // before the minimum
	"12/31/2099", // in the future
	nil,
}

var titles = []string{
	"Riparian buffer restoration",
	"Agricultural BMP cost share",
	"Culvert replacement",
	"Stormwater retrofit",
	"Watershed plan implementation",
}

func main() {
	addr := flag.String("addr", ":8089", "listen address")
	writeInputs := flag.String("write-inputs", "", "directory to write hucs.csv and header.txt into, then exit")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *writeInputs != "" {
		if err := writeInputFiles(*writeInputs); err != nil {
			logger.Error("write inputs failed", "error", err)
			os.Exit(1)
		}
		logger.Info("inputs written", "dir", *writeInputs)
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+routePrefix+"{huc12}", handleProjects(logger))

	srv := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Info("mock grts listening", "addr", *addr, "route", routePrefix)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func handleProjects(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		huc12 := r.PathValue("huc12")
		logger.Info("request", "huc12", huc12)

		switch {
		case strings.HasSuffix(huc12, "98"):
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "<html><body><h1>503 Service Temporarily Unavailable</h1></body></html>")
			return
		case strings.HasSuffix(huc12, "99"):
			writeJSON(w, http.StatusNotFound, map[string]any{"items": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": projectsFor(huc12)})
	}
}

// projectsFor derives a stable project list from the code.
func projectsFor(huc12 string) []map[string]any {
	h := fnv.New32a()
	h.Write([]byte(huc12)) //nolint:errcheck // hash writes never fail
	seed := h.Sum32()

	n := int(seed % 5)
	items := make([]map[string]any, n)
	for i := range items {
		k := int(seed>>8) + i
		items[i] = map[string]any{
			"prj_seq":            40000 + int(seed%5000) + i,
			"huc_12":             huc12,
			"title":              titles[k%len(titles)],
			"project_start_date": startDates[k%len(startDates)],
			"section_319_funds":  float64(k%40) * 2500,
			"total_budget":       float64(k%40)*4000 + 0.5,
			"status":             []string{"Active", "Completed"}[k%2],
		}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort mock response
}

func writeInputFiles(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var list strings.Builder
	list.WriteString("huc12,state\n")
	for _, h := range mockHUCs {
		fmt.Fprintf(&list, "%s,%s\n", h.huc12, h.state)
	}
	if err := os.WriteFile(filepath.Join(dir, "hucs.csv"), []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("write huc list: %w", err)
	}

	header := strings.Join(headerColumns, ";") + "\n"
	if err := os.WriteFile(filepath.Join(dir, "header.txt"), []byte(header), 0o644); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}
