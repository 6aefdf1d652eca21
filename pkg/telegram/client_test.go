package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSendDocument(t *testing.T) {
	t.Run("uploads multipart form and decodes identifiers", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/bot123:tok/sendDocument" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Fatalf("expected multipart form: %v", err)
			}
			if got := r.FormValue("chat_id"); got != "-100200" {
				t.Errorf("expected chat_id -100200, got %q", got)
			}
			if got := r.FormValue("caption"); got != "my-uuid" {
				t.Errorf("expected caption my-uuid, got %q", got)
			}
			f, _, err := r.FormFile("document")
			if err != nil {
				t.Fatalf("expected document part: %v", err)
			}
			payload, _ := io.ReadAll(f)
			if string(payload) != "PNGDATA" {
				t.Errorf("unexpected payload %q", payload)
			}
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":55,"document":{"file_id":"remote-id"}}}`)
		}))
		defer srv.Close()

		c := NewWithBaseURL(srv.URL)
		msgID, fileID, err := c.SendDocument(context.Background(), "123:tok", -100200,
			strings.NewReader("PNGDATA"), "my-uuid", "my-uuid")
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if msgID != 55 || fileID != "remote-id" {
			t.Errorf("unexpected identifiers: %d %q", msgID, fileID)
		}
	})

	t.Run("maps 429 to RateLimitedError with advertised delay", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`)
		}))
		defer srv.Close()

		c := NewWithBaseURL(srv.URL)
		_, _, err := c.SendDocument(context.Background(), "t", 1, strings.NewReader("x"), "f", "c")

		var rl *RateLimitedError
		if !errors.As(err, &rl) {
			t.Fatalf("expected RateLimitedError, got %v", err)
		}
		if rl.RetryAfter != 3*time.Second {
			t.Errorf("expected 3s retry_after, got %v", rl.RetryAfter)
		}
	})

	t.Run("maps api rejection to StatusError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"ok":false,"error_code":400,"description":"document invalid"}`)
		}))
		defer srv.Close()

		c := NewWithBaseURL(srv.URL)
		_, _, err := c.SendDocument(context.Background(), "t", 1, strings.NewReader("x"), "f", "c")

		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("expected StatusError, got %v", err)
		}
		if se.Code != 400 {
			t.Errorf("expected code 400, got %d", se.Code)
		}
	})
}

func TestGetFile(t *testing.T) {
	t.Run("resolves file path", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/bot123:tok/getFile" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if got := r.URL.Query().Get("file_id"); got != "remote-id" {
				t.Errorf("expected file_id remote-id, got %q", got)
			}
			fmt.Fprint(w, `{"ok":true,"result":{"file_path":"documents/file_7.png"}}`)
		}))
		defer srv.Close()

		c := NewWithBaseURL(srv.URL)
		path, err := c.GetFile(context.Background(), "123:tok", "remote-id")
		if err != nil {
			t.Fatalf("getFile failed: %v", err)
		}
		if path != "documents/file_7.png" {
			t.Errorf("unexpected path %q", path)
		}
	})

	t.Run("empty file_path is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"ok":true,"result":{}}`)
		}))
		defer srv.Close()

		c := NewWithBaseURL(srv.URL)
		if _, err := c.GetFile(context.Background(), "t", "x"); err == nil {
			t.Error("expected error for empty file_path")
		}
	})
}

func TestFileURL(t *testing.T) {
	c := NewWithBaseURL("https://api.telegram.org")
	got := c.FileURL("123:tok", "documents/file_7.png")
	want := "https://api.telegram.org/file/bot123:tok/documents/file_7.png"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
