package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/devhw/tgcdn/internal/logger"
	"github.com/devhw/tgcdn/pkg/metrics"
	"github.com/devhw/tgcdn/pkg/store"
)

// MaxUploadSize is the default hard cap on accepted payloads.
const MaxUploadSize = 20 << 20 // 20 MiB

// Enqueuer is the store surface the ingest endpoint needs. *store.Store
// implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, fileUUID store.UUID) error
}

// UploadHandler handles POST /upload.
//
// An accepted upload is staged at <temp_dir>/<file_uuid> and recorded as
// one READY queue row; the worker pool picks it up from there. Every
// rejection path must leave neither the temp file nor the queue row behind.
type UploadHandler struct {
	queue    Enqueuer
	tempDir  string
	maxBytes int64
	metrics  *metrics.PipelineMetrics
}

// NewUploadHandler creates an upload handler. maxBytes <= 0 selects the
// default cap; metrics may be nil.
func NewUploadHandler(queue Enqueuer, tempDir string, maxBytes int64, pm *metrics.PipelineMetrics) *UploadHandler {
	if maxBytes <= 0 {
		maxBytes = MaxUploadSize
	}
	return &UploadHandler{queue: queue, tempDir: tempDir, maxBytes: maxBytes, metrics: pm}
}

// Upload handles POST /upload with a multipart form field named "file".
//
// The declared Content-Type must be on the image allowlist and the payload
// prefix must sniff to the same type; a mismatch means a spoofed header and
// is rejected with 415. Size is enforced by running sum while streaming to
// the temp file, never by trusting Content-Length.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		uploadRejected(w, http.StatusBadRequest)
		return
	}

	part, err := findFilePart(mr)
	if err != nil {
		uploadRejected(w, http.StatusBadRequest)
		return
	}
	defer part.Close()

	declared := part.Header.Get("Content-Type")
	if !allowedImageTypes[declared] {
		uploadRejected(w, http.StatusUnsupportedMediaType)
		return
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(part, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		uploadRejected(w, http.StatusBadRequest)
		return
	}
	head = head[:n]

	if detectImageType(head) != declared {
		uploadRejected(w, http.StatusUnsupportedMediaType)
		return
	}

	id, err := store.NewUUID()
	if err != nil {
		uploadRejected(w, http.StatusInternalServerError)
		return
	}

	path := filepath.Join(h.tempDir, id.String())
	if err := h.stage(path, head, part); err != nil {
		if errors.Is(err, errTooLarge) {
			uploadRejected(w, http.StatusRequestEntityTooLarge)
			return
		}
		logger.Error("failed to stage upload", "file_uuid", id, "error", err)
		uploadRejected(w, http.StatusInternalServerError)
		return
	}

	if err := h.queue.Enqueue(r.Context(), id); err != nil {
		logger.Error("failed to enqueue upload", "file_uuid", id, "error", err)
		removeStaged(path)
		uploadRejected(w, http.StatusInternalServerError)
		return
	}

	h.metrics.RecordUploadStaged()
	logger.Info("upload staged", "file_uuid", id, "content_type", declared)
	uploadAccepted(w, id.String())
}

var errTooLarge = errors.New("payload exceeds size cap")

// findFilePart walks the multipart stream to the "file" field.
func findFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// stage writes head plus the remaining part body to path, fsyncs, and
// enforces the size cap by running sum. On any failure the partial file is
// removed.
func (h *UploadHandler) stage(path string, head []byte, body io.Reader) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		f.Close()
		if err != nil {
			removeStaged(path)
		}
	}()

	if _, err = f.Write(head); err != nil {
		return err
	}
	written := int64(len(head))

	// Read one byte past the cap so an oversize body is distinguishable
	// from one that is exactly at it.
	copied, err := io.Copy(f, io.LimitReader(body, h.maxBytes-written+1))
	if err != nil {
		return err
	}
	if written+copied > h.maxBytes {
		return errTooLarge
	}

	// The queue row must never reference bytes the kernel has not yet made
	// durable.
	if err = f.Sync(); err != nil {
		return err
	}
	return f.Close()
}

func removeStaged(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove staged file", "path", path, "error", err)
	}
}
