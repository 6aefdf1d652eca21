package handlers

import (
	"encoding/json"
	"net/http"
)

// UploadResponse is the ingest endpoint's wire format. Result is "1" with
// the staged file's uuid on success, "-1"/"-1" on every failure.
type UploadResponse struct {
	Result   string `json:"result"`
	FileUUID string `json:"file_uuid"`
}

// Detail is the content endpoint's error body.
type Detail struct {
	Detail string `json:"detail"`
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing useful left to do.
		return
	}
}

// uploadAccepted writes the 200 success body.
func uploadAccepted(w http.ResponseWriter, fileUUID string) {
	writeJSON(w, http.StatusOK, UploadResponse{Result: "1", FileUUID: fileUUID})
}

// uploadRejected writes the uniform failure body with the given status.
func uploadRejected(w http.ResponseWriter, status int) {
	writeJSON(w, status, UploadResponse{Result: "-1", FileUUID: "-1"})
}

// contentError writes a {"detail": ...} body with the given status.
func contentError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, Detail{Detail: detail})
}
