package script

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestImportPlainURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("// @scriptroom\n// @name Remote\n// @param n number Count\nreturn n"))
	}))
	defer srv.Close()

	rec, err := Import(context.Background(), srv.Client(), srv.URL+"/ping.js")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != "Remote" {
		t.Errorf("name = %q, want Remote", rec.Name)
	}
	if rec.URL != srv.URL+"/ping.js" {
		t.Errorf("url = %q", rec.URL)
	}
	if !rec.ReadOnly() {
		t.Error("imported record should be read-only")
	}
	if len(rec.Parameters) != 1 {
		t.Errorf("parameters = %d, want 1", len(rec.Parameters))
	}
}

func TestImportDefaultName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("return 1"))
	}))
	defer srv.Close()

	rec, err := Import(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != DefaultImportName {
		t.Errorf("name = %q, want %q", rec.Name, DefaultImportName)
	}
	if rec.Code != "return 1" {
		t.Errorf("code = %q", rec.Code)
	}
}

func TestImportHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := Import(context.Background(), srv.Client(), srv.URL); err == nil {
		t.Fatal("expected error")
	}
}

func TestImportGist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/abc123" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"owner":{"login":"ada"},"files":{"empty.js":{"content":""},"roll.js":{"content":"return 6"}}}`))
	}))
	defer srv.Close()

	prev := GistAPI
	GistAPI = srv.URL + "/"
	t.Cleanup(func() { GistAPI = prev })

	rec, err := Import(context.Background(), srv.Client(), "https://gist.github.com/ada/abc123")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Name != "roll.js" || rec.Author != "ada" || rec.Code != "return 6" {
		t.Errorf("rec = %+v", rec)
	}
}
