package restserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/database"
	"github.com/chrissnell/prodtimeline/internal/dataservice"
	"github.com/chrissnell/prodtimeline/internal/store"
	"github.com/chrissnell/prodtimeline/internal/types"
	"github.com/chrissnell/prodtimeline/pkg/responseformat"
)

var day = types.MustParseDate("2025-04-01")

func newServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	db, err := database.CreateConnection(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	st := store.New(db, nil,
		store.WithLogger(zap.NewNop().Sugar()),
		store.WithShifts([]types.Shift{
			{Name: "night", StartTime: types.MustParseTimeOfDay("22:00"), EndTime: types.MustParseTimeOfDay("06:00"), IsActive: true},
		}),
	)
	ctx := context.Background()
	require.NoError(t, st.UpsertMachine(ctx, types.Machine{ID: "m1", Name: "Press 1"}))
	require.NoError(t, st.UpsertOperator(ctx, types.User{ID: "u1", Name: "Ayşe"}))

	srv := httptest.NewServer(NewController(st, time.UTC, zap.NewNop().Sugar()).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func TestClientRoundTrip(t *testing.T) {
	srv, _ := newServer(t)
	c := dataservice.NewClient(srv.URL, dataservice.WithClientLogger(zap.NewNop().Sugar()))
	ctx := context.Background()

	m, err := c.FetchMachine(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Press 1", m.Name)

	shifts, err := c.FetchShifts(ctx)
	require.NoError(t, err)
	require.Len(t, shifts, 1)
	assert.Equal(t, 22, shifts[0].StartTime.Hour)

	require.NoError(t, c.SubmitAssignment(ctx, types.AssignmentSubmission{
		MachineID: "m1",
		Date:      day,
		Hour:      23,
		Edit:      types.AssignmentEdit{Operator: types.SetRef("u1"), ApplyToShift: true},
	}))

	rec, err := c.SubmitStoppage(ctx, types.StoppageSubmission{
		MachineID: "m1",
		Date:      day,
		Hour:      23,
		Reason:    types.ReasonMoldChange,
		Duration:  20,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 20, rec.Duration)

	days, err := c.FetchTimeline(ctx, "m1", types.DateRange{Start: day, End: day.AddDays(1)})
	require.NoError(t, err)
	require.Len(t, days, 2)
	require.Len(t, days[1].Hours, 6)
	assert.Equal(t, "Ayşe", days[1].Hours[0].Operator.Name)

	var late types.HourRecord
	for _, h := range days[0].Hours {
		if h.Hour == 23 {
			late = h
		}
	}
	assert.Equal(t, 20, late.StoppageMinutes)
	assert.Equal(t, types.StatusStoppage, late.Status)
}

func TestClientSeesServiceErrors(t *testing.T) {
	srv, _ := newServer(t)
	c := dataservice.NewClient(srv.URL, dataservice.WithClientLogger(zap.NewNop().Sugar()))
	ctx := context.Background()

	_, err := c.FetchMachine(ctx, "ghost")
	assert.ErrorIs(t, err, dataservice.ErrNotFound)

	err = c.SubmitAssignment(ctx, types.AssignmentSubmission{
		MachineID: "m1",
		Date:      day,
		Hour:      3,
		Edit:      types.AssignmentEdit{Mold: types.SetRef("nope")},
	})
	assert.ErrorIs(t, err, dataservice.ErrRejected)
}

func TestStoppageValidationIsReportedWithField(t *testing.T) {
	srv, _ := newServer(t)
	body, _ := json.Marshal(types.StoppageSubmission{
		MachineID:             "m1",
		Date:                  day,
		Hour:                  4,
		Reason:                types.ReasonBreakdown,
		Duration:              5,
		SAPNotificationNumber: "12a",
	})

	resp, err := http.Post(srv.URL+"/api/stoppages", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var eb responseformat.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&eb))
	assert.Equal(t, "sapNotificationNumber", eb.Field)
}

func TestIngestEndpoint(t *testing.T) {
	srv, st := newServer(t)
	body := `{"machineId":"m1","date":"2025-04-01","hour":9,"unitsProduced":33,"status":"running"}`

	resp, err := http.Post(srv.URL+"/api/machines/m1/events/production-update", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	days, err := st.FetchTimeline(context.Background(), "m1", types.DateRange{Start: day, End: day})
	require.NoError(t, err)
	require.Len(t, days[0].Hours, 1)
	assert.Equal(t, 33, days[0].Hours[0].UnitsProduced)

	resp, err = http.Post(srv.URL+"/api/machines/m2/events/production-update", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/machines/m1/events/lunch", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSummaryEndpoint(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/api/machines/m1/summary?start=2025-04-01&end=2025-04-02")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out SummaryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, day, out.Window.Start)
	assert.Empty(t, out.Warnings)

	bad, err := http.Get(srv.URL + "/api/machines/m1/summary?start=2025-04-03&end=2025-04-02")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}
