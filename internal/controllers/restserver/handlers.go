package restserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/chrissnell/prodtimeline/internal/dataservice"
	"github.com/chrissnell/prodtimeline/internal/events"
	"github.com/chrissnell/prodtimeline/internal/stoppage"
	"github.com/chrissnell/prodtimeline/internal/timeline"
	"github.com/chrissnell/prodtimeline/internal/types"
	"github.com/chrissnell/prodtimeline/pkg/responseformat"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handlers contains all HTTP handlers for the REST server
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter
}

// NewHandlers creates a new handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  responseformat.NewFormatter(),
	}
}

// SummaryResponse is returned by the summary endpoint
type SummaryResponse struct {
	Window   types.DateRange    `json:"window"`
	Summary  timeline.Summary   `json:"summary"`
	Warnings []timeline.Warning `json:"warnings"`
}

// Health reports that the server is up
func (h *Handlers) Health(w http.ResponseWriter, req *http.Request) {
	h.write(w, req, http.StatusOK, map[string]string{"status": "ok"})
}

// ListMachines returns every machine
func (h *Handlers) ListMachines(w http.ResponseWriter, req *http.Request) {
	machines, err := h.controller.store.Machines(req.Context())
	if err != nil {
		h.fail(w, req, err)
		return
	}
	h.write(w, req, http.StatusOK, machines)
}

// GetMachine returns one machine
func (h *Handlers) GetMachine(w http.ResponseWriter, req *http.Request) {
	m, err := h.controller.store.FetchMachine(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		h.fail(w, req, err)
		return
	}
	h.write(w, req, http.StatusOK, m)
}

// GetTimeline returns the timeline of a machine between start and end
func (h *Handlers) GetTimeline(w http.ResponseWriter, req *http.Request) {
	r, ok := h.dateRange(w, req)
	if !ok {
		return
	}
	days, err := h.controller.store.FetchTimeline(req.Context(), mux.Vars(req)["id"], r)
	if err != nil {
		h.fail(w, req, err)
		return
	}
	h.write(w, req, http.StatusOK, days)
}

// GetSummary returns totals and warnings for a machine between start and end
func (h *Handlers) GetSummary(w http.ResponseWriter, req *http.Request) {
	r, ok := h.dateRange(w, req)
	if !ok {
		return
	}
	days, err := h.controller.store.FetchTimeline(req.Context(), mux.Vars(req)["id"], r)
	if err != nil {
		h.fail(w, req, err)
		return
	}
	tl := timeline.New(days)
	warnings := tl.Warnings(time.Now(), h.controller.loc)
	if warnings == nil {
		warnings = []timeline.Warning{}
	}
	h.write(w, req, http.StatusOK, SummaryResponse{
		Window:   r,
		Summary:  tl.Summarize(),
		Warnings: warnings,
	})
}

// ListOperators returns every operator
func (h *Handlers) ListOperators(w http.ResponseWriter, req *http.Request) {
	ops, err := h.controller.store.FetchOperators(req.Context())
	if err != nil {
		h.fail(w, req, err)
		return
	}
	h.write(w, req, http.StatusOK, ops)
}

// ListMolds returns every mold
func (h *Handlers) ListMolds(w http.ResponseWriter, req *http.Request) {
	molds, err := h.controller.store.FetchMolds(req.Context())
	if err != nil {
		h.fail(w, req, err)
		return
	}
	h.write(w, req, http.StatusOK, molds)
}

// ListShifts returns the configured shifts
func (h *Handlers) ListShifts(w http.ResponseWriter, req *http.Request) {
	shifts, err := h.controller.store.FetchShifts(req.Context())
	if err != nil {
		h.fail(w, req, err)
		return
	}
	if shifts == nil {
		shifts = []types.Shift{}
	}
	h.write(w, req, http.StatusOK, shifts)
}

// SubmitAssignment stores an assignment edit
func (h *Handlers) SubmitAssignment(w http.ResponseWriter, req *http.Request) {
	var sub types.AssignmentSubmission
	if !h.decode(w, req, &sub) {
		return
	}
	if err := h.controller.store.SubmitAssignment(req.Context(), sub); err != nil {
		h.fail(w, req, err)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusNoContent)
}

// SubmitStoppage stores a user-entered stoppage
func (h *Handlers) SubmitStoppage(w http.ResponseWriter, req *http.Request) {
	var sub types.StoppageSubmission
	if !h.decode(w, req, &sub) {
		return
	}
	rec, err := h.controller.store.SubmitStoppage(req.Context(), sub)
	if err != nil {
		h.fail(w, req, err)
		return
	}
	h.write(w, req, http.StatusCreated, rec)
}

// IngestEvent applies a machine-side event posted as JSON
func (h *Handlers) IngestEvent(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		h.error(w, req, http.StatusBadRequest, responseformat.ErrorBody{Error: "reading body: " + err.Error()})
		return
	}

	e, err := events.FromJSON(events.Name(vars["name"]), body)
	if errors.Is(err, events.ErrUnknownEvent) {
		h.error(w, req, http.StatusNotFound, responseformat.ErrorBody{Error: err.Error()})
		return
	}
	if err != nil {
		h.error(w, req, http.StatusBadRequest, responseformat.ErrorBody{Error: err.Error()})
		return
	}
	if e.Machine() != vars["id"] {
		h.error(w, req, http.StatusBadRequest, responseformat.ErrorBody{Error: "machineId does not match the path", Field: "machineId"})
		return
	}

	stored, err := h.controller.store.Ingest(req.Context(), e)
	if err != nil {
		h.fail(w, req, err)
		return
	}
	h.write(w, req, http.StatusAccepted, stored)
}

func (h *Handlers) dateRange(w http.ResponseWriter, req *http.Request) (types.DateRange, bool) {
	q := req.URL.Query()
	start, err := types.ParseDate(q.Get("start"))
	if err != nil {
		h.error(w, req, http.StatusBadRequest, responseformat.ErrorBody{Error: err.Error(), Field: "start"})
		return types.DateRange{}, false
	}
	end, err := types.ParseDate(q.Get("end"))
	if err != nil {
		h.error(w, req, http.StatusBadRequest, responseformat.ErrorBody{Error: err.Error(), Field: "end"})
		return types.DateRange{}, false
	}
	r := types.DateRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		h.error(w, req, http.StatusBadRequest, responseformat.ErrorBody{Error: err.Error()})
		return types.DateRange{}, false
	}
	return r, true
}

func (h *Handlers) decode(w http.ResponseWriter, req *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		h.error(w, req, http.StatusBadRequest, responseformat.ErrorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

// fail maps store errors onto status codes.
func (h *Handlers) fail(w http.ResponseWriter, req *http.Request, err error) {
	var verr *stoppage.ValidationError
	switch {
	case errors.As(err, &verr):
		h.error(w, req, http.StatusUnprocessableEntity, responseformat.ErrorBody{Error: verr.Reason, Field: verr.Field})
	case errors.Is(err, dataservice.ErrNotFound):
		h.error(w, req, http.StatusNotFound, responseformat.ErrorBody{Error: err.Error()})
	case errors.Is(err, dataservice.ErrRejected):
		h.error(w, req, http.StatusUnprocessableEntity, responseformat.ErrorBody{Error: err.Error()})
	default:
		h.controller.logger.Errorw("request failed", "path", req.URL.Path, "error", err)
		h.error(w, req, http.StatusInternalServerError, responseformat.ErrorBody{Error: "internal error"})
	}
}

func (h *Handlers) write(w http.ResponseWriter, req *http.Request, status int, data any) {
	if err := h.formatter.WriteStatus(w, req, status, data, nil); err != nil {
		h.controller.logger.Warnw("writing response failed", "path", req.URL.Path, "error", err)
	}
}

func (h *Handlers) error(w http.ResponseWriter, req *http.Request, status int, body responseformat.ErrorBody) {
	if err := h.formatter.WriteError(w, req, status, body); err != nil {
		h.controller.logger.Warnw("writing error response failed", "path", req.URL.Path, "error", err)
	}
}
