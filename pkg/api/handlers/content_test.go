package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/devhw/tgcdn/pkg/resolver"
	"github.com/devhw/tgcdn/pkg/store"
)

// fakeResolver returns a fixed URL or error for any uuid.
type fakeResolver struct {
	url string
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, fileUUID store.UUID) (string, error) {
	return f.url, f.err
}

// serveContent routes the request through chi so URL params resolve.
func serveContent(h *ContentHandler, target string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/content/{file_uuid}", h.Content)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) Detail {
	t.Helper()
	var d Detail
	if err := json.NewDecoder(rec.Body).Decode(&d); err != nil {
		t.Fatalf("failed to decode detail body: %v", err)
	}
	return d
}

func contentPath(id store.UUID) string {
	return "/content/" + id.String()
}

func TestContentHappyPath(t *testing.T) {
	payload := append(append([]byte{}, pngMagic...), []byte("XXX")...)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer upstream.Close()

	id, _ := store.NewUUID()
	h := NewContentHandler(&fakeResolver{url: upstream.URL}, nil)
	rec := serveContent(h, contentPath(id))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != string(payload) {
		t.Errorf("body differs from upstream payload")
	}

	t.Run("headers", func(t *testing.T) {
		if got := rec.Header().Get("Content-Type"); got != "image/png" {
			t.Errorf("expected re-sniffed image/png, got %q", got)
		}
		if got := rec.Header().Get("Content-Disposition"); got != `inline; filename="`+id.String()+`"` {
			t.Errorf("unexpected disposition %q", got)
		}
		if got := rec.Header().Get("Cache-Control"); got != "public, max-age=8640000" {
			t.Errorf("unexpected cache-control %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("unexpected cors header %q", got)
		}
	})
}

func TestContentNotFound(t *testing.T) {
	id, _ := store.NewUUID()
	h := NewContentHandler(&fakeResolver{err: resolver.ErrNotFound}, nil)
	rec := serveContent(h, contentPath(id))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if d := decodeDetail(t, rec); d.Detail == "" {
		t.Error("expected a detail message")
	}
}

func TestContentMalformedID(t *testing.T) {
	h := NewContentHandler(&fakeResolver{url: "http://unused"}, nil)
	rec := serveContent(h, "/content/not-a-uuid")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for malformed id, got %d", rec.Code)
	}
}

func TestContentUninitialized(t *testing.T) {
	id, _ := store.NewUUID()
	h := NewContentHandler(nil, nil)
	rec := serveContent(h, contentPath(id))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestContentMirrorsUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer upstream.Close()

	id, _ := store.NewUUID()
	h := NewContentHandler(&fakeResolver{url: upstream.URL}, nil)
	rec := serveContent(h, contentPath(id))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected mirrored 404, got %d", rec.Code)
	}
}

func TestContentConnectionError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close() // nothing listening anymore

	id, _ := store.NewUUID()
	h := NewContentHandler(&fakeResolver{url: url}, nil)
	rec := serveContent(h, contentPath(id))

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", rec.Code)
	}
}

func TestContentEmptyBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	id, _ := store.NewUUID()
	h := NewContentHandler(&fakeResolver{url: upstream.URL}, nil)
	rec := serveContent(h, contentPath(id))

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for empty upstream body, got %d", rec.Code)
	}
}

func TestContentResolverFailure(t *testing.T) {
	id, _ := store.NewUUID()
	h := NewContentHandler(&fakeResolver{err: context.DeadlineExceeded}, nil)
	rec := serveContent(h, contentPath(id))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for resolver failure, got %d", rec.Code)
	}
}
