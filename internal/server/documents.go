package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/raphaelgruber/ragserve/internal/db"
	"github.com/raphaelgruber/ragserve/internal/models"
	"github.com/raphaelgruber/ragserve/internal/service"
)

// maxUploadBytes bounds a single document upload.
const maxUploadBytes = 50 << 20

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid multipart request: %v", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "read upload: %v", err)
		return
	}

	doc, err := s.ingester.Upload(r.Context(), agentID, header.Filename, content)
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Agent with id '%s' not found", agentID)
		return
	case errors.Is(err, service.ErrUnsupportedType):
		writeDetail(w, http.StatusBadRequest, "File type not supported: %s", header.Filename)
		return
	case errors.Is(err, service.ErrDuplicateUpload):
		writeDetail(w, http.StatusConflict, "%v", err)
		return
	case err != nil:
		s.logger.Error("upload document", "agent_id", agentID, "filename", header.Filename, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}

	s.logger.Info("document uploaded",
		"agent_id", agentID,
		"filename", header.Filename,
		"size_bytes", len(content))
	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (s *Server) handleIngestText(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")

	var req TextIngest
	if err := decodeJSON(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Title == "" || req.Text == "" {
		writeDetail(w, http.StatusBadRequest, "title and text must not be empty")
		return
	}

	doc, err := s.ingester.IngestText(r.Context(), agentID, req.Title, req.Text)
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Agent with id '%s' not found", agentID)
		return
	case errors.Is(err, service.ErrDuplicateUpload):
		writeDetail(w, http.StatusConflict, "%v", err)
		return
	case err != nil:
		s.logger.Error("ingest text", "agent_id", agentID, "title", req.Title, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}

	writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if _, ok := s.agentOr404(w, r, agentID); !ok {
		return
	}

	docs, err := s.store.ListDocumentsByAgent(r.Context(), agentID)
	if err != nil {
		s.logger.Error("list documents", "agent_id", agentID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}

	resp := DocumentListResponse{Documents: make([]DocumentResponse, len(docs)), Total: len(docs)}
	for i := range docs {
		resp.Documents[i] = toDocumentResponse(&docs[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	docID := r.PathValue("docID")

	doc, err := s.store.GetDocument(r.Context(), docID)
	if err == nil {
		if owner, idErr := models.RecordIDString(doc.Agent); idErr != nil || owner != agentID {
			err = db.ErrNotFound
		}
	}
	if errors.Is(err, db.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Document with id '%s' not found", docID)
		return
	}
	if err != nil {
		s.logger.Error("load document", "document_id", docID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	docID := r.PathValue("docID")

	err := s.ingester.DeleteDocument(r.Context(), agentID, docID)
	if errors.Is(err, db.ErrNotFound) {
		writeDetail(w, http.StatusNotFound, "Document with id '%s' not found", docID)
		return
	}
	if err != nil {
		s.logger.Error("delete document", "agent_id", agentID, "document_id", docID, "error", err)
		writeDetail(w, http.StatusInternalServerError, "%v", err)
		return
	}

	s.logger.Info("document deleted", "agent_id", agentID, "document_id", docID)
	w.WriteHeader(http.StatusNoContent)
}
