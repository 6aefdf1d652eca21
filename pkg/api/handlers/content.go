package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devhw/tgcdn/internal/logger"
	"github.com/devhw/tgcdn/pkg/resolver"
	"github.com/devhw/tgcdn/pkg/store"
)

// cacheMaxAge is the client-side cache lifetime for served content.
// Indexed files are immutable, so 100 days is safe.
const cacheMaxAge = 8640000

// URLResolver turns a file uuid into a live upstream download URL.
// *resolver.Resolver implements it.
type URLResolver interface {
	Resolve(ctx context.Context, fileUUID store.UUID) (string, error)
}

// ContentHandler handles GET /content/{file_uuid}: resolve the upstream
// URL, then stream the upstream body through unchanged. No range support;
// the upstream does not offer it either.
type ContentHandler struct {
	resolver URLResolver
	client   *http.Client
}

// NewContentHandler creates a content handler. resolver may be nil before
// bootstrap completes, in which case requests are answered 503.
func NewContentHandler(res URLResolver, client *http.Client) *ContentHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ContentHandler{resolver: res, client: client}
}

// Content handles GET /content/{file_uuid}.
func (h *ContentHandler) Content(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		contentError(w, http.StatusServiceUnavailable, "service not initialized")
		return
	}

	id, err := store.ParseUUID(chi.URLParam(r, "file_uuid"))
	if err != nil {
		contentError(w, http.StatusNotFound, "file not found")
		return
	}

	url, err := h.resolver.Resolve(r.Context(), id)
	if err != nil {
		if errors.Is(err, resolver.ErrNotFound) {
			contentError(w, http.StatusNotFound, "file not found")
			return
		}
		logger.Error("failed to resolve content url", "file_uuid", id, "error", err)
		contentError(w, http.StatusBadGateway, "upstream lookup failed")
		return
	}

	h.stream(w, r, id, url)
}

// stream proxies the upstream body. The first chunk is read up front to
// re-sniff the media type before any header goes out; upstream statuses are
// mirrored, connection errors map to 504 and an empty body to 204.
func (h *ContentHandler) stream(w http.ResponseWriter, r *http.Request, id store.UUID, url string) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
	if err != nil {
		contentError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		logger.Warn("upstream fetch failed", "file_uuid", id, "error", err)
		contentError(w, http.StatusGatewayTimeout, "upstream connection failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		contentError(w, resp.StatusCode, "upstream error")
		return
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		contentError(w, http.StatusGatewayTimeout, "upstream connection failed")
		return
	}
	if n == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	head = head[:n]

	contentType := detectImageType(head)
	if contentType == "" {
		contentType = http.DetectContentType(head)
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", id.String()))
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", cacheMaxAge))
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(head); err != nil {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Client went away mid-stream or the upstream cut the body; the
		// status line is already out, so just log it.
		logger.Debug("content stream interrupted", "file_uuid", id, "error", err)
	}
}
