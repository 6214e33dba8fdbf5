package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/marcus/gridsave/internal/serverdb"
)

// PutDocumentRequest is the body for PUT /v1/documents/{id}.
type PutDocumentRequest struct {
	Payload         json.RawMessage `json:"payload"`
	ExpectedVersion *int64          `json:"expected_version"`
}

// PutDocumentResponse acknowledges a single write.
type PutDocumentResponse struct {
	ResourceID string `json:"resource_id"`
	NewVersion int64  `json:"new_version"`
	UpdatedAt  string `json:"updated_at"`
}

// BatchRequest is the body for POST /v1/documents/batch.
type BatchRequest struct {
	Items []BatchItem `json:"items"`
}

// BatchItem is one write in a batch.
type BatchItem struct {
	ItemID          string          `json:"item_id"`
	Payload         json.RawMessage `json:"payload"`
	ExpectedVersion *int64          `json:"expected_version"`
}

// BatchItemResult is the outcome of one batch item. Error holds the error
// code when Success is false.
type BatchItemResult struct {
	ItemID          string `json:"item_id"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerUpdatedAt string `json:"server_updated_at,omitempty"`
	NewVersion      *int64 `json:"new_version,omitempty"`
	ServerVersion   *int64 `json:"server_version,omitempty"`
}

// DocumentResponse is a stored document.
type DocumentResponse struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Version   int64           `json:"version"`
	UpdatedAt string          `json:"updated_at"`
}

func toDocumentResponse(d *serverdb.Document) DocumentResponse {
	return DocumentResponse{
		ID:        d.ID,
		Payload:   d.Payload,
		Version:   d.Version,
		UpdatedAt: formatTime(d.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, serverdb.ErrNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "document not found")
		return
	}
	if err != nil {
		logFor(r.Context()).Error("get document", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to load document")
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.List(r.Context())
	if err != nil {
		logFor(r.Context()).Error("list documents", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list documents")
		return
	}
	out := make([]DocumentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, toDocumentResponse(&docs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req PutDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RecordInvalid()
		writeError(w, http.StatusBadRequest, ErrCodeValidationFailed, "invalid JSON body")
		return
	}

	doc, err := s.store.Put(r.Context(), serverdb.PutInput{
		ID:              id,
		Payload:         req.Payload,
		ExpectedVersion: req.ExpectedVersion,
		RequestID:       requestID(r.Context()),
	})

	var ce *serverdb.ConflictError
	var ve *serverdb.ValidationError
	switch {
	case err == nil:
		s.metrics.RecordWrite()
		logFor(r.Context()).Debug("document written", "id", id, "version", doc.Version)
		writeJSON(w, http.StatusOK, PutDocumentResponse{
			ResourceID: doc.ID,
			NewVersion: doc.Version,
			UpdatedAt:  formatTime(doc.UpdatedAt),
		})
	case errors.As(err, &ce):
		s.metrics.RecordConflict()
		resp := ConflictResponse{Error: apiError(w, ErrCodeVersionConflict, ce.Error())}
		if ce.Current != nil {
			v := ce.Current.Version
			resp.ServerVersion = &v
			resp.ServerUpdatedAt = formatTime(ce.Current.UpdatedAt)
		}
		logFor(r.Context()).Info("version conflict", "id", id, "err", ce)
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &ve):
		s.metrics.RecordInvalid()
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidationFailed, ve.Reason)
	default:
		logFor(r.Context()).Error("put document", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to write document")
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordBatch()

	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.metrics.RecordInvalid()
		writeError(w, http.StatusBadRequest, ErrCodeValidationFailed, "invalid JSON body")
		return
	}
	if len(req.Items) > s.config.MaxBatchItems {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBatchTooLarge,
			fmt.Sprintf("batch has %d items, limit is %d", len(req.Items), s.config.MaxBatchItems))
		return
	}

	rid := requestID(r.Context())
	inputs := make([]serverdb.PutInput, len(req.Items))
	for i, it := range req.Items {
		inputs[i] = serverdb.PutInput{
			ID:              it.ItemID,
			Payload:         it.Payload,
			ExpectedVersion: it.ExpectedVersion,
			RequestID:       rid,
		}
	}

	results := s.store.PutBatch(r.Context(), inputs)
	out := make([]BatchItemResult, len(results))
	for i, res := range results {
		out[i] = s.batchResult(r, req.Items[i].ItemID, res)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) batchResult(r *http.Request, id string, res serverdb.PutResult) BatchItemResult {
	if res.Err == nil {
		s.metrics.RecordWrite()
		v := res.Document.Version
		return BatchItemResult{
			ItemID:          id,
			Success:         true,
			NewVersion:      &v,
			ServerUpdatedAt: formatTime(res.Document.UpdatedAt),
		}
	}

	out := BatchItemResult{ItemID: id, Message: res.Err.Error()}
	var ce *serverdb.ConflictError
	var ve *serverdb.ValidationError
	switch {
	case errors.As(res.Err, &ce):
		s.metrics.RecordConflict()
		out.Error = ErrCodeVersionConflict
		if ce.Current != nil {
			v := ce.Current.Version
			out.ServerVersion = &v
			out.ServerUpdatedAt = formatTime(ce.Current.UpdatedAt)
		}
	case errors.As(res.Err, &ve):
		s.metrics.RecordInvalid()
		out.Error = ErrCodeValidationFailed
		out.Message = ve.Reason
	default:
		logFor(r.Context()).Error("batch item", "id", id, "err", res.Err)
		out.Error = ErrCodeInternal
		out.Message = "failed to write document"
	}
	return out
}
