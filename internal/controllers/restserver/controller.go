package restserver

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/log"
	"github.com/chrissnell/prodtimeline/internal/store"
)

// Controller represents the REST server controller
type Controller struct {
	store    *store.Store
	loc      *time.Location
	logger   *zap.SugaredLogger
	handlers *Handlers
	router   *mux.Router
}

// NewController creates a new REST server controller over st. loc is the
// facility time zone used for warnings.
func NewController(st *store.Store, loc *time.Location, logger *zap.SugaredLogger) *Controller {
	if logger == nil {
		logger = log.Named("rest")
	}
	if loc == nil {
		loc = time.UTC
	}
	ctrl := &Controller{
		store:  st,
		loc:    loc,
		logger: logger,
	}
	ctrl.handlers = NewHandlers(ctrl)
	ctrl.router = ctrl.setupRouter()
	return ctrl
}

// Handler returns the HTTP handler serving the API
func (c *Controller) Handler() http.Handler {
	return log.HTTPMiddleware(c.logger)(c.router)
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter() *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/machines", c.handlers.ListMachines).Methods(http.MethodGet)
	api.HandleFunc("/machines/{id}", c.handlers.GetMachine).Methods(http.MethodGet)
	api.HandleFunc("/machines/{id}/timeline", c.handlers.GetTimeline).Methods(http.MethodGet)
	api.HandleFunc("/machines/{id}/summary", c.handlers.GetSummary).Methods(http.MethodGet)
	api.HandleFunc("/machines/{id}/events/{name}", c.handlers.IngestEvent).Methods(http.MethodPost)

	api.HandleFunc("/operators", c.handlers.ListOperators).Methods(http.MethodGet)
	api.HandleFunc("/molds", c.handlers.ListMolds).Methods(http.MethodGet)
	api.HandleFunc("/shifts", c.handlers.ListShifts).Methods(http.MethodGet)

	api.HandleFunc("/assignments", c.handlers.SubmitAssignment).Methods(http.MethodPost)
	api.HandleFunc("/stoppages", c.handlers.SubmitStoppage).Methods(http.MethodPost)

	router.HandleFunc("/healthz", c.handlers.Health).Methods(http.MethodGet)
	return router
}
