package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/starford/oohmap/internal/geocode"
	"github.com/starford/oohmap/internal/wizard"
)

const multipartMemory = 32 << 20

// Upload handles POST /api/upload (multipart/form-data with fields "file",
// "projectId" and an optional "mapping" JSON object of column to field).
// Without a mapping the detected one is used.
//
//	@Summary		Import a KML, CSV or XLSX file as a layer
//	@Tags			layers
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file		formData	file	true	"File to import"
//	@Param			projectId	formData	string	true	"Project record id"
//	@Param			mapping		formData	string	false	"Column mapping JSON"
//	@Success		200			{object}	UploadResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/upload [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	limit := h.wizard.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	projectID := r.FormValue("projectId")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("projectId is required"))
		return
	}

	var confirm wizard.Confirmer = wizard.AutoConfirm{}
	if raw := r.FormValue("mapping"); raw != "" {
		var mapping map[string]geocode.ColumnType
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("mapping must be a JSON object"))
			return
		}
		confirm = wizard.StaticConfirm(mapping)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	out, err := h.wizard.Ingest(r.Context(), projectID, header.Filename, data, confirm)
	if err != nil {
		var unsupported *wizard.UnsupportedFileTypeError
		if errors.As(err, &unsupported) {
			writeJSON(w, http.StatusBadRequest, errorBody("unsupported file type: "+unsupported.Ext))
			return
		}
		writeError(w, "upload", "Failed to import file", err)
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Success:  true,
		LayerID:  out.LayerID,
		FileName: out.FileName,
		Message:  "Layer imported",
		Rows:     out.Rows,
		Geocoded: out.Geocoded,
		Failed:   out.Failed,
	})
}
