package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"inkforge.dev/internal/persistence/indexdb"
	"inkforge.dev/internal/persistence/resource"
	"inkforge.dev/internal/transport/ws"
)

func testMux(t *testing.T) (*http.ServeMux, string) {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "tale.ink")
	if err := writeFile(src, "Once.\n-> END\n"); err != nil {
		t.Fatal(err)
	}
	if err := (&resource.Importer{}).Import(context.Background(), src, filepath.Join(dir, "tale"), resource.Options{MasterFile: true, Compress: true}); err != nil {
		t.Fatalf("import: %v", err)
	}
	idx, err := indexdb.OpenSQLite(filepath.Join(dir, "index.sqlite"))
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	logger := log.New(io.Discard, "", 0)
	lib := resource.NewLibrary(dir)
	play := ws.NewServer(lib, idx, ws.Config{}, logger)
	return newMux(play, lib, idx, nil, logger), dir
}

func get(mux *http.ServeMux, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestMux_HealthAndMetrics(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "")
	mux, _ := testMux(t)
	if rec := get(mux, "/healthz", "127.0.0.1:1"); rec.Code != 200 || rec.Body.String() != "ok" {
		t.Fatalf("healthz=%d %q", rec.Code, rec.Body.String())
	}
	rec := get(mux, "/metrics", "127.0.0.1:1")
	body := rec.Body.String()
	if !strings.Contains(body, "inkforge_sessions 0") || !strings.Contains(body, "inkforge_index_queue_capacity 4096") {
		t.Fatalf("metrics=%s", body)
	}
}

func TestMux_AdminStoriesLoopbackOnly(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "")
	mux, _ := testMux(t)
	if rec := get(mux, "/admin/v1/stories", "10.0.0.5:4000"); rec.Code != http.StatusForbidden {
		t.Fatalf("remote admin=%d", rec.Code)
	}
	rec := get(mux, "/admin/v1/stories", "[::1]:4000")
	if rec.Code != 200 {
		t.Fatalf("admin=%d %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Stories []struct {
			Name   string `json:"name"`
			Kind   string `json:"kind"`
			Digest string `json:"digest"`
		} `json:"stories"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Stories) != 1 || resp.Stories[0].Name != "tale" || resp.Stories[0].Kind != resource.KindStory || resp.Stories[0].Digest == "" {
		t.Fatalf("stories=%+v", resp.Stories)
	}
}

func TestMux_AdminDisabledInProduction(t *testing.T) {
	t.Setenv("DEPLOY_ENV", "production")
	mux, _ := testMux(t)
	if rec := get(mux, "/admin/v1/stories", "127.0.0.1:1"); rec.Code != http.StatusNotFound {
		t.Fatalf("admin in production=%d", rec.Code)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("X_FLAG", "yes")
	if !envBool("X_FLAG", false) {
		t.Fatalf("yes should be true")
	}
	t.Setenv("X_FLAG", "junk")
	if envBool("X_FLAG", false) {
		t.Fatalf("junk should fall back to default")
	}
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestBuildMirror(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	t.Setenv("INKFORGE_MIRROR", "false")
	if m, err := buildMirror(t.TempDir(), logger); err != nil || m != nil {
		t.Fatalf("disabled mirror=%v err=%v", m, err)
	}
	t.Setenv("INKFORGE_MIRROR", "true")
	t.Setenv("INKFORGE_MIRROR_ENDPOINT", "r2.example.com")
	if _, err := buildMirror(t.TempDir(), logger); err == nil {
		t.Fatalf("expected error without bucket and keys")
	}
	t.Setenv("INKFORGE_MIRROR_BUCKET", "tales")
	t.Setenv("INKFORGE_MIRROR_ACCESS_KEY_ID", "ak")
	t.Setenv("INKFORGE_MIRROR_SECRET_ACCESS_KEY", "sk")
	m, err := buildMirror(t.TempDir(), logger)
	if err != nil || m == nil {
		t.Fatalf("mirror=%v err=%v", m, err)
	}
	m.Close()
}
