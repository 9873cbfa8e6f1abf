package server

import (
	"encoding/json"
	"net/http"
)

// apiMessage is the envelope for every JSON response.
type apiMessage struct {
	Status string `json:"status"` // "ok" or "error"
	Msg    string `json:"msg"`
}

// writeJSON sends msg under the response envelope. closeConn marks responses
// after which the request body was left unconsumed, telling the client not to
// reuse the connection.
func writeJSON(w http.ResponseWriter, code int, closeConn bool, msg string) {
	status := "ok"
	if code >= 400 {
		status = "error"
	}
	if closeConn {
		w.Header().Set("Connection", "close")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(apiMessage{Status: status, Msg: msg})
}
