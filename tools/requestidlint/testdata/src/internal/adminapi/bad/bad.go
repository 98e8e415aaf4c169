package bad

import "net/http"

func handle(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusBadRequest) // want "use writeError helper to ensure X-Request-ID header is set instead of calling WriteHeader directly"
}

func handleRaw(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "nope", http.StatusBadRequest) // want "use writeError helper to ensure X-Request-ID header is set instead of http.Error"
}
