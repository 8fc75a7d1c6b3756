package dispatch

import (
	"encoding/json"
	"mime"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// NewRouter exposes the dispatcher over HTTP for a local extension or UI.
func NewRouter(d *Dispatcher) *mux.Router {
	r := mux.NewRouter()
	r.Use(d.logRequests)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	commands := requireJSON(http.HandlerFunc(d.handleCommand))
	v1.Handle("/commands", commands).Methods(http.MethodPost)
	v1.Handle("/commands/{action}", commands).Methods(http.MethodPost)
	v1.HandleFunc("/mapping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Handle(r.Context(), Request{Action: ActionGetClientMapping}))
	}).Methods(http.MethodGet)
	return r
}

// requireJSON rejects commands not sent as application/json. Browsers only
// send that type cross-origin after a CORS preflight, which this server never
// approves, so web pages cannot drive the commands.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "application/json" {
			writeJSON(w, http.StatusUnsupportedMediaType, Response{Error: "Content-Type must be application/json"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *Dispatcher) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req Request
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, Response{Error: "invalid JSON body: " + err.Error()})
			return
		}
	}
	if action, ok := mux.Vars(r)["action"]; ok {
		req.Action = action
	}
	writeJSON(w, http.StatusOK, d.Handle(r.Context(), req))
}

const requestIDHeader = "X-Request-Id"

// logRequests tags every request with an ID, echoing the caller's if given.
func (d *Dispatcher) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		next.ServeHTTP(w, r)
		d.logger.Debug("request", d.logger.Args("id", id, "method", r.Method, "path", r.URL.Path, "took", time.Since(start).String()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
