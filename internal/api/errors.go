// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/strmd/strmd/internal/guard"
	"github.com/strmd/strmd/internal/metrics"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorMsg writes a JSON error body. The message must never carry
// filesystem paths or internal detail.
func writeErrorMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeDenial converts a guard denial into its HTTP response.
func writeDenial(w http.ResponseWriter, res guard.Result) {
	metrics.RecordFileRequestDenied(res.Reason)
	msg := "access denied"
	switch res.Reason {
	case guard.ReasonNotFound:
		msg = "not found"
	case guard.ReasonInternal:
		msg = "internal error"
	}
	writeErrorMsg(w, res.Status, msg)
}

func writeNotFound(w http.ResponseWriter) {
	writeErrorMsg(w, http.StatusNotFound, "not found")
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeErrorMsg(w, http.StatusBadRequest, msg)
}

func writeServerBusy(w http.ResponseWriter) {
	writeErrorMsg(w, http.StatusServiceUnavailable, "server busy")
}

func writeInternalError(w http.ResponseWriter) {
	writeErrorMsg(w, http.StatusInternalServerError, "internal error")
}
