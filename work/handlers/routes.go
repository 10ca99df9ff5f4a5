package handlers

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidsniff/work/middleware"
	"vidsniff/work/types"
)

// RegisterRoutes mounts the public API on router. Media bodies and event
// streams skip compression; JSON answers are gzipped.
func RegisterRoutes(router *mux.Router, s *Services) {
	router.HandleFunc("/api/movie", middleware.CORS(middleware.GzipMiddleware(HandleMedia(s, types.MediaMovie)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/tv", middleware.CORS(middleware.GzipMiddleware(HandleMedia(s, types.MediaTV)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/sniff", middleware.CORS(middleware.GzipMiddleware(HandleSniff(s)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/showbox", middleware.CORS(middleware.GzipMiddleware(HandleShowbox(s)))).Methods("GET", "OPTIONS")

	router.HandleFunc("/api/progress", middleware.CORS(middleware.GzipMiddleware(HandleProgress(s)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/progress/{key}", middleware.CORS(middleware.GzipMiddleware(HandleProgress(s)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/progress/{key}/events", middleware.CORS(HandleProgressEvents(s))).Methods("GET", "OPTIONS")

	router.HandleFunc("/api/proxy", middleware.CORS(HandleProxy(s))).Methods("GET", "HEAD", "OPTIONS")
	router.HandleFunc("/api/madplay", middleware.CORS(middleware.GzipMiddleware(HandleMadplay(s)))).Methods("GET", "OPTIONS")
	router.HandleFunc("/api/madplay/proxy", middleware.CORS(HandleMadplayProxy(s))).Methods("GET", "HEAD", "OPTIONS")
	router.HandleFunc("/api/subtitles", middleware.CORS(middleware.GzipMiddleware(HandleSubtitles(s)))).Methods("GET", "OPTIONS")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}
