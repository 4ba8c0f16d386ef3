package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/tutorly/core/user"
	"github.com/trezcool/tutorly/services/metrics"
	"github.com/trezcool/tutorly/testutil"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	env    *testutil.Env
	srv    *Server
	now    time.Time
	sam    user.User // student
	sue    user.User // another student
	tina   user.User // tutor
	paul   user.User // principal
	adam   user.User // admin
	school user.School
}

func setup(t *testing.T) *testApp {
	env := testutil.NewEnv(t)
	env.Conf.Storage.DiskRoot = t.TempDir()

	app := &testApp{
		env: env,
		now: time.Date(2030, 6, 1, 10, 0, 0, 0, time.UTC),
		srv: NewServer(ServerDeps{
			Conf:          env.Conf,
			Logger:        env.Logger,
			Validate:      env.Validate,
			Translator:    env.Translator,
			Metrics:       metrics.NewPrometheus(),
			UserSvc:       env.Users,
			PasswordReset: env.Resets,
			LedgerSvc:     env.Ledger,
			BookingSvc:    env.Booking,
			AttachmentSvc: env.Attachments,
			Dispatcher:    env.Dispatcher,
		}),
		sam:  testutil.CreateUser(t, env.UserRepo, "Sam", "sam", "sam@example.com", "Tr0ub4dor&3x", []string{user.RoleStudent}, true),
		sue:  testutil.CreateRoleUser(t, env.UserRepo, "sue", user.RoleStudent),
		tina: testutil.CreateRoleUser(t, env.UserRepo, "tina", user.RoleTutor),
		paul: testutil.CreateRoleUser(t, env.UserRepo, "paul", user.RolePrincipal),
		adam: testutil.CreateRoleUser(t, env.UserRepo, "adam", user.RoleAdmin),
	}
	app.school = testutil.CreateSchool(t, env.UserRepo, "Hill School", app.paul)
	testutil.SetNow(t, app.now)
	t.Cleanup(func() { _ = app.srv.Shutdown(context.Background()) })
	return app
}

// do serves one request and returns the recorder.
func (app *testApp) do(req *http.Request, rec *httptest.ResponseRecorder) *httptest.ResponseRecorder {
	app.srv.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, srv *Server, usr user.User) string {
	token, err := srv.tokens.generate(srv.tokens.claims(usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marshalObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshalObj() failed: %v", err)
	}
	return data
}

func unmarshalBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshalBody() failed: %v; body %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if _, ok := j1.([]interface{}); !ok {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

// jsonDiff renders a unified diff of the indented JSON documents.
func jsonDiff(got, want []byte) string {
	indent := func(b []byte) []string {
		var out bytes.Buffer
		if err := json.Indent(&out, b, "", "  "); err != nil {
			return difflib.SplitLines(string(b))
		}
		return difflib.SplitLines(out.String())
	}
	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        indent(want),
		B:        indent(got),
		FromFile: "want",
		ToFile:   "got",
		Context:  2,
	})
	return strings.TrimSpace(diff)
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data mismatch:\n%s", jsonDiff(rec.Body.Bytes(), tt.wantData))
	}
}
