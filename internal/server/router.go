package server

import "net/http"

func NewRouter() http.Handler {
	mux := http.NewServeMux()

	// API эндпоинты
	mux.HandleFunc("/start", StartRun)
	mux.HandleFunc("/stop", StopRun)
	mux.HandleFunc("/stream", Stream)
	mux.HandleFunc("/export", ExportCSV)
	mux.HandleFunc("/result", Result)

	// статика
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "static/index.html")
	})

	return mux
}
