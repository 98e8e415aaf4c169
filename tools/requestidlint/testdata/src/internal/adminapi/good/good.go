package good

import "net/http"

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
}

func handle(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusBadRequest, "BAD_REQUEST", "nope")
}
