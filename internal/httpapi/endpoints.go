package httpapi

import (
	"net/http"

	"pkt.systems/guestbookd/api"
)

func (h *Handler) handleGuestbook(w http.ResponseWriter, r *http.Request) error {
	switch r.Method {
	case http.MethodGet:
		return h.handleList(w, r)
	case http.MethodPost:
		return h.handleCreate(w, r)
	case http.MethodDelete:
		return h.handleClear(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		return httpError{
			Status: http.StatusMethodNotAllowed,
			Code:   "method_not_allowed",
			Detail: "Method not allowed",
		}
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) error {
	entries, err := h.svc.List(r.Context())
	if err != nil {
		return httpError{Status: http.StatusInternalServerError, Code: "list_failed", Detail: "Failed to read entries."}
	}
	h.metrics.SetEntryCount(len(entries))
	h.writeJSON(w, http.StatusOK, api.EntriesResponse{Entries: entries})
	return nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) error {
	var req api.CreateRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		return err
	}
	entry, err := h.svc.Create(r.Context(), req)
	if err != nil {
		if isValidation(err) {
			return err
		}
		return httpError{Status: http.StatusInternalServerError, Code: "create_failed", Detail: "Failed to create entry."}
	}
	h.writeJSON(w, http.StatusCreated, api.EntryResponse{Entry: entry})
	return nil
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) error {
	if err := h.requireAdmin(r); err != nil {
		return err
	}
	if err := h.svc.Clear(r.Context()); err != nil {
		return httpError{Status: http.StatusInternalServerError, Code: "clear_failed", Detail: "Failed to clear entries."}
	}
	h.metrics.SetEntryCount(0)
	h.writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
	return nil
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST, OPTIONS")
		return httpError{
			Status: http.StatusMethodNotAllowed,
			Code:   "method_not_allowed",
			Detail: "Method not allowed",
		}
	}
	if err := h.requireAdmin(r); err != nil {
		return err
	}
	var req api.ImportRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		return err
	}
	if req.Entries == nil {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_import", Detail: `Expected "entries" array.`}
	}
	entries, err := h.svc.Import(r.Context(), req.Entries)
	if err != nil {
		return httpError{Status: http.StatusInternalServerError, Code: "import_failed", Detail: "Failed to import entries."}
	}
	h.metrics.SetEntryCount(len(entries))
	h.writeJSON(w, http.StatusOK, api.EntriesResponse{Entries: entries})
	return nil
}

// handleUnknown covers every /api/ path without a dedicated route. Preflight
// requests are already answered by the CORS middleware.
func (h *Handler) handleUnknown(http.ResponseWriter, *http.Request) error {
	return httpError{Status: http.StatusNotFound, Code: "not_found", Detail: "Not found"}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) error {
	// Readiness exercises the store so a broken backend flips the probe.
	if _, err := h.svc.List(r.Context()); err != nil {
		return httpError{Status: http.StatusServiceUnavailable, Code: "not_ready", Detail: "store unavailable"}
	}
	w.WriteHeader(http.StatusOK)
	return nil
}
