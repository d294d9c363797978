package nemweb

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/woodid012/plugit/pkg/logger"
)

func zipWith(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestFetchExtractsPayload(t *testing.T) {
	payload := "I,DREGION,,1,REGIONID,SETTLEMENTDATE,RRP\n"
	archive := zipWith(t, "PUBLIC_DISPATCH_202511191405.CSV", payload)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), logger.Nop())
	csvPath, cleanup, err := f.Fetch(context.Background(), srv.URL+"/report.zip", "")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer cleanup()

	got, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(got) != payload {
		t.Fatalf("payload mismatch: %q", got)
	}

	cleanup()
	if _, err := os.Stat(csvPath); !os.IsNotExist(err) {
		t.Fatalf("cleanup must remove the scratch directory")
	}
}

func TestFetchBadArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not a zip file"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), logger.Nop())
	if _, _, err := f.Fetch(context.Background(), srv.URL+"/report.zip", ""); err == nil {
		t.Fatalf("expected decompression error")
	}
}

func TestFetchNoCSVInArchive(t *testing.T) {
	archive := zipWith(t, "readme.txt", "nothing tabular here")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), logger.Nop())
	if _, _, err := f.Fetch(context.Background(), srv.URL+"/report.zip", ""); err == nil {
		t.Fatalf("expected missing payload error")
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), logger.Nop())
	if _, _, err := f.Fetch(context.Background(), srv.URL+"/missing.zip", ""); err == nil {
		t.Fatalf("expected status error")
	}
}
