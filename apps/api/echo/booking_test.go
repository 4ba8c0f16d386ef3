package echoapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tutorly/core/booking"
	"github.com/trezcool/tutorly/core/idempotency"
	"github.com/trezcool/tutorly/core/ledger"
	"github.com/trezcool/tutorly/testutil"
)

type sessionBody struct {
	ID              string         `json:"id"`
	Status          booking.Status `json:"status"`
	DisplayStatus   booking.Status `json:"display_status"`
	CreditsRequired int            `json:"credits_required"`
	MeetingLink     string         `json:"meeting_link"`
	RescheduledFrom string         `json:"rescheduled_from"`
}

func bookingBody(tutorID, date, clock string, duration int) []byte {
	return []byte(fmt.Sprintf(`{"tutor_id":%q,"subject":"Algebra","date":%q,"time":%q,"duration_minutes":%d}`, tutorID, date, clock, duration))
}

// post sends a JSON POST with an optional Idempotency-Key.
func (app *testApp) post(path, token string, body []byte, key ...string) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(http.MethodPost, path, token, body)
	if len(key) > 0 {
		req.Header.Set(idempotencyKeyHdr, key[0])
	}
	return app.do(req, rec)
}

func (app *testApp) book(t *testing.T, date, clock string, duration int) sessionBody {
	t.Helper()
	rec := app.post("/v1/sessions", getToken(t, app.srv, app.sam), bookingBody(app.tina.ID, date, clock, duration))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var s sessionBody
	unmarshalBody(t, rec, &s)
	return s
}

func (app *testApp) accept(t *testing.T, id string) {
	t.Helper()
	rec := app.post("/v1/sessions/"+id+"/accept", getToken(t, app.srv, app.tina), []byte(`{"meeting_link":"https://meet.example/x"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSessionAPI_create(t *testing.T) {
	app := setup(t)
	testutil.Fund(t, app.env.Ledger, app.sam.ID, 4)
	samToken := getToken(t, app.srv, app.sam)

	tests := []httpTest{
		{
			name:     "tutor cannot book",
			body:     bookingBody(app.tina.ID, "2030-06-03", "14:00", 60),
			token:    getToken(t, app.srv, app.tina),
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name:     "no data",
			body:     []byte(`{}`),
			token:    samToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{
				"tutor_id":         "this field is required",
				"subject":          "this field is required",
				"date":             "this field is required",
				"time":             "this field is required",
				"duration_minutes": "this field is required",
			}),
		},
		{
			name:     "in the past",
			body:     bookingBody(app.tina.ID, "2030-05-01", "14:00", 60),
			token:    samToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"time": "session must start in the future"}),
		},
		{
			name:     "not a tutor",
			body:     bookingBody(app.sue.ID, "2030-06-03", "14:00", 60),
			token:    samToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"tutor_id": "tutor not found"}),
		},
		{
			name:     "duration not offered",
			body:     bookingBody(app.tina.ID, "2030-06-03", "14:00", 45),
			token:    samToken,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "ok",
			body:     bookingBody(app.tina.ID, "2030-06-03", "14:00", 60),
			token:    samToken,
			wantCode: http.StatusCreated,
		},
		{
			name:     "not enough left",
			body:     bookingBody(app.tina.ID, "2030-06-04", "14:00", 120),
			token:    samToken,
			wantCode: http.StatusPaymentRequired,
			wantData: marshalObj(t, httpErr{Error: ledger.ErrInsufficientCredits.Error()}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.post("/v1/sessions", tt.token, tt.body))
		})
	}
	assert.Equal(t, 2, testutil.Balance(t, app.env.Ledger, app.sam.ID))
}

func TestSessionAPI_createIdempotent(t *testing.T) {
	app := setup(t)
	testutil.Fund(t, app.env.Ledger, app.sam.ID, 4)
	samToken := getToken(t, app.srv, app.sam)
	body := bookingBody(app.tina.ID, "2030-06-03", "14:00", 30)

	first := app.post("/v1/sessions", samToken, body, "book-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := app.post("/v1/sessions", samToken, body, "book-1")
	require.Equal(t, http.StatusCreated, second.Code, second.Body.String())

	var s1, s2 sessionBody
	unmarshalBody(t, first, &s1)
	unmarshalBody(t, second, &s2)
	assert.Equal(t, s1.ID, s2.ID)
	assert.Equal(t, 3, testutil.Balance(t, app.env.Ledger, app.sam.ID))
	assert.Len(t, app.env.Notifier.Events(), 1)

	rec := app.post("/v1/sessions", samToken, bookingBody(app.tina.ID, "2030-06-03", "15:00", 30), "book-1")
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusUnprocessableEntity,
		wantData: marshalObj(t, httpErr{Error: idempotency.ErrKeyReused.Error()}),
	}, rec)
}

func TestSessionAPI_lifecycle(t *testing.T) {
	app := setup(t)
	testutil.Fund(t, app.env.Ledger, app.sam.ID, 4)
	s := app.book(t, "2030-06-03", "14:00", 60)
	assert.Equal(t, booking.StatusPending, s.DisplayStatus)
	assert.Equal(t, 2, s.CreditsRequired)

	samToken, tinaToken, sueToken := getToken(t, app.srv, app.sam), getToken(t, app.srv, app.tina), getToken(t, app.srv, app.sue)
	path := "/v1/sessions/" + s.ID
	notFound := marshalObj(t, httpErr{Error: booking.ErrNotFound.Error()})

	t.Run("stranger", func(t *testing.T) {
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: notFound}, app.do(newAuthRequest(http.MethodGet, path, sueToken)))
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: notFound}, app.post(path+"/reject", sueToken, nil))
	})

	t.Run("unknown", func(t *testing.T) {
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: notFound}, app.do(newAuthRequest(http.MethodGet, "/v1/sessions/nope", samToken)))
	})

	tests := []httpTest{
		{
			name:     "no meeting link",
			path:     path + "/accept",
			body:     []byte(`{"meeting_link":""}`),
			token:    tinaToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"meeting_link": "this field is required"}),
		},
		{
			name:     "script link",
			path:     path + "/accept",
			body:     []byte(`{"meeting_link":"javascript:alert(1)"}`),
			token:    tinaToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"meeting_link": "must be an http or https link"}),
		},
		{
			name:     "student cannot accept",
			path:     path + "/accept",
			body:     []byte(`{"meeting_link":"https://meet.example/x"}`),
			token:    samToken,
			wantCode: http.StatusForbidden,
			wantData: marshalObj(t, httpErr{Error: booking.ErrForbidden.Error()}),
		},
		{
			name:     "accept",
			path:     path + "/accept",
			body:     []byte(`{"meeting_link":"https://meet.example/x"}`),
			token:    tinaToken,
			wantCode: http.StatusOK,
		},
		{
			name:     "accept twice",
			path:     path + "/accept",
			body:     []byte(`{"meeting_link":"https://meet.example/x"}`),
			token:    tinaToken,
			wantCode: http.StatusConflict,
			wantData: marshalObj(t, httpErr{Error: (&booking.TransitionError{Event: booking.EventAccepted, From: booking.StatusConfirmed}).Error()}),
		},
		{
			name:     "too early to complete",
			path:     path + "/complete",
			token:    tinaToken,
			wantCode: http.StatusConflict,
			wantData: marshalObj(t, httpErr{Error: booking.ErrSessionNotEnded.Error()}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.post(tt.path, tt.token, tt.body))
		})
	}

	t.Run("query", func(t *testing.T) {
		rec := app.do(newAuthRequest(http.MethodGet, "/v1/sessions?status=confirmed", samToken))
		require.Equal(t, http.StatusOK, rec.Code)
		var got []sessionBody
		unmarshalBody(t, rec, &got)
		require.Len(t, got, 1)
		assert.Equal(t, s.ID, got[0].ID)
		assert.Equal(t, "https://meet.example/x", got[0].MeetingLink)

		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: []byte(`[]`)}, app.do(newAuthRequest(http.MethodGet, "/v1/sessions", sueToken)))
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"start_from": errInvalidDateTime}),
		}, app.do(newAuthRequest(http.MethodGet, "/v1/sessions?start_from=yesterday", samToken)))
	})
}

func TestSessionAPI_cancel(t *testing.T) {
	app := setup(t)
	testutil.Fund(t, app.env.Ledger, app.sam.ID, 4)
	samToken := getToken(t, app.srv, app.sam)

	soon := app.book(t, "2030-06-02", "08:00", 30) // 22h ahead
	later := app.book(t, "2030-06-03", "14:00", 30)
	app.accept(t, soon.ID)

	tests := []httpTest{
		{
			name:     "no reason",
			path:     "/v1/sessions/" + later.ID + "/cancel",
			body:     []byte(`{"reason":"  "}`),
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"reason": "this field is required"}),
		},
		{
			name:     "inside the notice window",
			path:     "/v1/sessions/" + soon.ID + "/cancel",
			body:     []byte(`{"reason":"sick"}`),
			wantCode: http.StatusConflict,
			wantData: marshalObj(t, echo.Map{
				"error":           (&booking.NoticeError{RequiredHours: 24, HoursRemaining: 22}).Error(),
				"required_hours":  24,
				"hours_remaining": 22,
			}),
		},
		{
			name:     "ok",
			path:     "/v1/sessions/" + later.ID + "/cancel",
			body:     []byte(`{"reason":"sick"}`),
			wantCode: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.post(tt.path, samToken, tt.body))
		})
	}
	assert.Equal(t, 3, testutil.Balance(t, app.env.Ledger, app.sam.ID))
}

func TestSessionAPI_noShowAndDispute(t *testing.T) {
	app := setup(t)
	testutil.Fund(t, app.env.Ledger, app.sam.ID, 4)
	samToken, tinaToken := getToken(t, app.srv, app.sam), getToken(t, app.srv, app.tina)

	s := app.book(t, "2030-06-03", "14:00", 60)
	app.accept(t, s.ID)
	stale := app.book(t, "2030-06-03", "15:00", 30)
	path := "/v1/sessions/" + s.ID

	checkCodeAndData(t, httpTest{
		wantCode: http.StatusConflict,
		wantData: marshalObj(t, httpErr{Error: booking.ErrSessionNotEnded.Error()}),
	}, app.post(path+"/tutor-no-show", samToken, nil))

	testutil.SetNow(t, time.Date(2030, 6, 3, 16, 0, 0, 0, time.UTC))

	t.Run("display status", func(t *testing.T) {
		for id, want := range map[string]booking.Status{s.ID: booking.StatusCompleted, stale.ID: booking.StatusExpired} {
			rec := app.do(newAuthRequest(http.MethodGet, "/v1/sessions/"+id, samToken))
			require.Equal(t, http.StatusOK, rec.Code)
			var got sessionBody
			unmarshalBody(t, rec, &got)
			assert.Equal(t, want, got.DisplayStatus)
			assert.NotEqual(t, want, got.Status)
		}
	})

	tests := []httpTest{
		{name: "issue on unsettled session", path: path + "/issues", body: []byte(`{"message":"no show"}`), token: samToken, wantCode: http.StatusConflict},
		{name: "successful", path: path + "/successful", token: tinaToken, wantCode: http.StatusOK},
		{
			name:     "no-show after successful",
			path:     path + "/tutor-no-show",
			token:    samToken,
			wantCode: http.StatusConflict,
			wantData: marshalObj(t, echo.Map{"error": booking.ErrDisputeRequired.Error(), "dispute": path + "/issues"}),
		},
		{name: "empty issue", path: path + "/issues", body: []byte(`{"message":""}`), token: samToken, wantCode: http.StatusBadRequest},
		{
			name:     "issue",
			path:     path + "/issues",
			body:     []byte(`{"message":"the tutor never joined"}`),
			token:    samToken,
			wantCode: http.StatusAccepted,
			wantData: marshalObj(t, SuccessResponse{Success: "Your report was sent to our support team."}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, app.post(tt.path, tt.token, tt.body))
		})
	}
	assert.Equal(t, 2, testutil.Balance(t, app.env.Ledger, app.tina.ID))
}

func TestSessionAPI_availabilityAndReschedule(t *testing.T) {
	app := setup(t)
	testutil.Fund(t, app.env.Ledger, app.sam.ID, 4)
	samToken, tinaToken := getToken(t, app.srv, app.sam), getToken(t, app.srv, app.tina)

	s := app.book(t, "2030-06-03", "14:00", 60)
	want := booking.Availability{
		TutorID: app.tina.ID,
		Date:    "2030-06-05",
		Windows: []booking.Window{{Start: "09:00", End: "11:00"}},
		Slots:   []string{"09:00", "09:30", "10:00", "10:30"},
	}
	windows := []byte(`{"date":"2030-06-05","windows":[{"start":"09:00","end":"11:00"}]}`)

	tests := []httpTest{
		{method: http.MethodPut, name: "student cannot set", path: "/v1/availability", body: windows, token: samToken, wantCode: http.StatusForbidden},
		{
			method:   http.MethodPut,
			name:     "overlap",
			path:     "/v1/availability",
			body:     []byte(`{"date":"2030-06-05","windows":[{"start":"09:00","end":"11:00"},{"start":"10:00","end":"12:00"}]}`),
			token:    tinaToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"windows": "window 10:00-12:00 overlaps 09:00-11:00"}),
		},
		{method: http.MethodPut, name: "set", path: "/v1/availability", body: windows, token: tinaToken, wantCode: http.StatusOK, wantData: marshalObj(t, want)},
		{method: http.MethodGet, name: "get", path: "/v1/tutors/" + app.tina.ID + "/availability?date=2030-06-05", token: samToken, wantCode: http.StatusOK, wantData: marshalObj(t, want)},
		{method: http.MethodGet, name: "bad date", path: "/v1/tutors/" + app.tina.ID + "/availability?date=soon", token: samToken, wantCode: http.StatusBadRequest},
		{
			method:   http.MethodPost,
			name:     "slot not offered",
			path:     "/v1/sessions/" + s.ID + "/reschedule",
			body:     []byte(`{"date":"2030-06-05","time":"11:00"}`),
			token:    samToken,
			wantCode: http.StatusBadRequest,
			wantData: marshalObj(t, map[string]string{"time": booking.ErrSlotUnavailable.Error()}),
		},
		{method: http.MethodPost, name: "reschedule", path: "/v1/sessions/" + s.ID + "/reschedule", body: []byte(`{"date":"2030-06-05","time":"10:00"}`), token: samToken, wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(newAuthRequest(tt.method, tt.path, tt.token, tt.body))
			checkCodeAndData(t, tt, rec)

			if tt.name == "reschedule" {
				var got sessionBody
				unmarshalBody(t, rec, &got)
				assert.Equal(t, s.ID, got.RescheduledFrom)
				assert.Equal(t, booking.StatusPending, got.Status)
			}
		})
	}
	assert.Equal(t, 2, testutil.Balance(t, app.env.Ledger, app.sam.ID))
}
