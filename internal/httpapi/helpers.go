package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"pkt.systems/guestbookd/internal/guestbook"
)

// decodeBody reads a size-capped JSON request body into dst. Oversized
// bodies abort the read with 413; anything else undecodable yields the
// generic 400 parse error.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, h.jsonMaxBytes)
	defer body.Close()
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return httpError{Status: http.StatusRequestEntityTooLarge, Code: "payload_too_large", Detail: "Payload too large"}
		}
		return httpError{Status: http.StatusBadRequest, Code: "invalid_json", Detail: "Invalid JSON payload"}
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); err == nil || !errors.Is(err, io.EOF) {
		return httpError{Status: http.StatusBadRequest, Code: "invalid_json", Detail: "Invalid JSON payload"}
	}
	return nil
}

// requireAdmin enforces the bearer token on destructive operations. An empty
// configured token admits every caller.
func (h *Handler) requireAdmin(r *http.Request) error {
	if h.adminToken == "" {
		return nil
	}
	auth := r.Header.Get("Authorization")
	token := auth
	if len(auth) >= 7 && strings.EqualFold(auth[:7], "Bearer ") {
		token = strings.TrimSpace(auth[7:])
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
		return httpError{Status: http.StatusForbidden, Code: "forbidden", Detail: "Forbidden"}
	}
	return nil
}

func isValidation(err error) bool {
	var validation *guestbook.ValidationError
	return errors.As(err, &validation)
}
