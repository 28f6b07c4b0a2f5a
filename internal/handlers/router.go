package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/xelth-com/propcount/internal/buildinfo"
	"github.com/xelth-com/propcount/internal/locking"
	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/middleware"
	"github.com/xelth-com/propcount/internal/websocket"
)

// Router wraps the mux router and the backend dependencies
type Router struct {
	*mux.Router
	db     *gorm.DB
	hub    *websocket.Hub
	locker locking.Locker
	log    *logrus.Logger
}

// Deps are the collaborators the routes need.
type Deps struct {
	DB        *gorm.DB
	Hub       *websocket.Hub
	Locker    locking.Locker
	JWTSecret string
	Log       *logrus.Logger
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(d Deps) *Router {
	if d.Locker == nil {
		d.Locker = locking.NewLocal()
	}
	r := &Router{
		Router: mux.NewRouter().UseEncodedPath(),
		db:     d.DB,
		hub:    d.Hub,
		locker: d.Locker,
		log:    logging.Or(d.Log),
	}
	auth := middleware.AuthMiddleware(d.JWTSecret)

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Realtime office rooms
	r.Handle("/ws", auth(http.HandlerFunc(r.serveWs))).Methods("GET")

	// API routes (protected)
	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth)
	api.HandleFunc("/assets", r.listAssets).Methods("GET")

	pc := api.PathPrefix("/physical-count").Subrouter()
	pc.HandleFunc("", r.bulkSave).Methods("PUT")
	pc.HandleFunc("/export", r.exportCSV).Methods("GET")
	pc.HandleFunc("/by-property-number/{propertyNumber}", r.lookupByPropertyNumber).Methods("GET")
	pc.HandleFunc("/{assetId}/verify", r.verifyAsset).Methods("PUT")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	status := "ok"
	if r.db != nil {
		if sqlDB, err := r.db.DB(); err != nil || sqlDB.PingContext(req.Context()) != nil {
			status = "degraded"
		}
	}
	body := buildinfo.Fields()
	body["status"] = status
	respondJSON(w, http.StatusOK, body)
}

func (r *Router) serveWs(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "Realtime updates are not enabled")
		return
	}
	op, _ := middleware.OperatorFromContext(req.Context())
	websocket.ServeWs(r.hub, op.Name, w, req)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
