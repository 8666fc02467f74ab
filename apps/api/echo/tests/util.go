package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	. "github.com/eloschool/backend/apps/api/echo"
	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/core/access"
	emailsvc "github.com/eloschool/backend/services/email"
	identitysvc "github.com/eloschool/backend/services/identity"
	testutil "github.com/eloschool/backend/tests"
)

var (
	errMissingToken = httpErr{Error: "user not authenticated"}
	errBadToken     = httpErr{Error: "invalid identity token"}
	errNoSession    = httpErr{Error: "no session"}

	notifyAddr = mail.Address{Name: "Root", Address: "root@elo.school"}
)

type testApp struct {
	*Server
	fix      *testutil.Fixture
	tokens   *identitysvc.DevProvider
	mailSvc  *emailsvc.ConsoleServiceMock
	sessions *access.Sessions
}

func setup(t *testing.T, superAdmins ...string) *testApp {
	t.Helper()
	conf := &core.Config{
		AppName:         "Elo School",
		SecretKey:       "secret",
		TestMode:        true,
		FrontendBaseURL: "http://localhost:3000",
	}
	conf.Session.TTL = time.Hour
	conf.Email.DefaultFromEmail = "Elo School <noreply@localhost>"

	fix := testutil.NewFixture(t, superAdmins...)
	tokens := identitysvc.NewDevProvider(conf.SecretKey, conf.AppName, time.Hour)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, fix.Logger)
	core.ParseEmailTemplates(fix.Logger, true)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	access.InitValidators(validate, translator)

	sessions := access.NewSessions(fix.Deps())
	t.Cleanup(sessions.CloseAll)

	srv := NewServer(ServerDeps{
		Conf:       conf,
		Logger:     fix.Logger,
		Sessions:   sessions,
		Identity:   tokens,
		Requests:   access.NewRequests(fix.Dir, fix.Connector, mailSvc, []mail.Address{notifyAddr}, fix.Logger),
		Validate:   validate,
		Translator: translator,
	})
	t.Cleanup(func() { _ = srv.Close() })

	return &testApp{Server: srv, fix: fix, tokens: tokens, mailSvc: mailSvc, sessions: sessions}
}

func (app *testApp) getToken(t *testing.T, id access.Identity) string {
	t.Helper()
	token, err := app.tokens.Mint(id)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

// signIn opens a session for token and returns its cookie.
func (app *testApp) signIn(t *testing.T, token string) *http.Cookie {
	t.Helper()
	req, rec := newAuthRequest(http.MethodPost, "/v1/session", token, nil)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("signIn() failed: code = %v; body %v", rec.Code, rec.Body.String())
	}
	return sessionCookie(t, rec)
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "elo_sid" {
			return c
		}
	}
	t.Fatalf("sessionCookie(): no elo_sid cookie")
	return nil
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
	cookie   *http.Cookie
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, cookie *http.Cookie, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func (app *testApp) run(t *testing.T, tt httpTest) *httptest.ResponseRecorder {
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req, rec := newAuthRequest(method, tt.path, tt.token, tt.cookie, tt.body)
	app.ServeHTTP(rec, req)
	checkCodeAndData(t, tt, rec)
	return rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
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

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	wantCode := tt.wantCode
	if wantCode == 0 {
		wantCode = http.StatusOK
	}
	if rec.Code != wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
