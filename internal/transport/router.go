package transport

import "net/http"

type Handler interface {
	convert(w http.ResponseWriter, r *http.Request)
	download(w http.ResponseWriter, r *http.Request)
	health(w http.ResponseWriter, r *http.Request)
	listHistory(w http.ResponseWriter, r *http.Request)
	saveHistory(w http.ResponseWriter, r *http.Request)
	deleteHistory(w http.ResponseWriter, r *http.Request)
	notFound(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h Handler
}

func NewRouter(h Handler) *router {
	return &router{h: h}
}

func (r *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("POST /convert", r.h.convert)
	mux.HandleFunc("GET /downloads/{name}", r.h.download)
	mux.HandleFunc("GET /health", r.h.health)

	for _, prefix := range []string{"/api/history", "/api/conversions"} {
		mux.HandleFunc("GET "+prefix, r.h.listHistory)
		mux.HandleFunc("POST "+prefix, r.h.saveHistory)
		mux.HandleFunc("DELETE "+prefix+"/{id}", r.h.deleteHistory)
	}

	mux.HandleFunc("/", r.h.notFound)

	return mux
}
