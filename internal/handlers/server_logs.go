package handlers

import (
	"net/http"

	"github.com/pulseboard/pulseboard/internal/logging"
)

func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := intQuery(r, "lines", 200)
	if lines <= 0 {
		lines = 200
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}
