package objstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClient_PutFileSigned(t *testing.T) {
	var gotPath, gotAuth, gotBody, gotHash string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "tales", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "turn 1.snap.zst")
	if err := os.WriteFile(local, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.PutFile(context.Background(), "archives/tale/turn 1.snap.zst", local); err != nil {
		t.Fatalf("put: %v", err)
	}
	if gotPath != "/tales/archives/tale/turn%201.snap.zst" {
		t.Fatalf("path=%s", gotPath)
	}
	if gotBody != "hello" || gotHash != sha256Hex([]byte("hello")) {
		t.Fatalf("body=%q hash=%s", gotBody, gotHash)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20260102/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("auth=%s", gotAuth)
	}
}

func TestClient_PutFileStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := New(Config{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	local := filepath.Join(t.TempDir(), "f")
	_ = os.WriteFile(local, []byte("x"), 0o644)
	if err := c.PutFile(context.Background(), "f", local); err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{Endpoint: "r2.example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected error without keys")
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) PutFile(ctx context.Context, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("flaky")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_UploadsWithPrefixAndRetries(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "archives", "tale", "s1", "turn_0002.snap.zst")
	_ = os.MkdirAll(filepath.Dir(local), 0o755)
	_ = os.WriteFile(local, []byte("x"), 0o644)

	up := &fakeUploader{fails: 1}
	m := NewMirror(up, dir, Config{Prefix: "/prod/", Workers: 1}, nil)
	m.backoff = time.Millisecond
	m.Enqueue(local)
	m.Close()

	if len(up.keys) != 1 || up.keys[0] != "prod/archives/tale/s1/turn_0002.snap.zst" {
		t.Fatalf("keys=%v", up.keys)
	}
	if st := m.Stats(); st.UploadedTotal != 1 || st.FailedTotal != 0 || st.EnqueuedTotal != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestMirror_RejectsOutsideDataDir(t *testing.T) {
	m := &Mirror{dataDir: t.TempDir()}
	if _, err := m.ObjectKey(filepath.Join(t.TempDir(), "elsewhere")); err == nil {
		t.Fatalf("expected error for file outside data dir")
	}
}
