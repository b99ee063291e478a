package web

import (
	"encoding/json"
	"net/http"
)

// response is the envelope every API route answers with. Only success is
// always present; the other fields appear when the route has something to
// put in them.
type response struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message,omitempty"`
	Data       any         `json:"data,omitempty"`
	Details    any         `json:"details,omitempty"`
	Errors     []string    `json:"errors,omitempty"`
	TestResult *testResult `json:"testResult,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// testResult mirrors the live delivery probe performed during registration.
type testResult struct {
	Success  bool   `json:"success"`
	Category string `json:"category,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData answers a successful request with a payload.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, response{Success: true, Data: data})
}

// writeFail answers a rejected request with a user-facing message.
func writeFail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, response{Success: false, Message: msg})
}

// writeInternal answers an unrecognized failure. The original error text is
// preserved in the error field so the frontend can surface it.
func writeInternal(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, response{
		Success: false,
		Message: "서버 오류가 발생했습니다",
		Error:   err.Error(),
	})
}
