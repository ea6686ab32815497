package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/restio/restio/pkg/document"
)

// Negotiate enforces the JSON:API media-type rules: a request declaring the
// JSON:API content type must not carry media type parameters (415), and a
// client that restricts Accept to JSON:API entries must accept the bare
// media type (406).
func Negotiate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); strings.HasPrefix(ct, MediaType) && ct != MediaType {
			writeNegotiationError(w, http.StatusUnsupportedMediaType,
				"media type parameters are not allowed on "+MediaType)
			return
		}

		var jsonapiEntries, acceptable int
		for _, header := range r.Header.Values("Accept") {
			for _, entry := range strings.Split(header, ",") {
				mediaType := strings.TrimSpace(strings.SplitN(entry, ";", 2)[0])
				if !strings.HasPrefix(mediaType, MediaType) {
					continue
				}
				jsonapiEntries++
				if strings.TrimSpace(entry) == MediaType {
					acceptable++
				}
			}
		}
		if jsonapiEntries > 0 && acceptable == 0 {
			writeNegotiationError(w, http.StatusNotAcceptable,
				"every JSON:API Accept entry carries media type parameters")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeNegotiationError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(document.ErrorDocument{Errors: []document.Error{{
		Code:   strconv.Itoa(status),
		Title:  http.StatusText(status),
		Detail: detail,
	}}})
}
