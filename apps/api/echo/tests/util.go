package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	. "github.com/trezcool/lms/apps/api/echo"
	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/course"
	"github.com/trezcool/lms/core/enrollment"
	"github.com/trezcool/lms/core/purchase"
	"github.com/trezcool/lms/core/reconcile"
	"github.com/trezcool/lms/core/user"
	"github.com/trezcool/lms/services/payment/stripe"
	"github.com/trezcool/lms/tests"
)

const webhookSecret = "whsec_test_secret"

var (
	errTimeout = errors.New("i/o timeout")

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
	errNotFound     = httpErr{Error: "not found"}
)

// flakyCourses fails course saves while failing is set.
type flakyCourses struct {
	course.Repository
	failing int32
}

func (repo *flakyCourses) SaveCourse(ctx context.Context, c course.Course) error {
	if atomic.LoadInt32(&repo.failing) == 1 {
		return errTimeout
	}
	return repo.Repository.SaveCourse(ctx, c)
}

func (repo *flakyCourses) fail(on bool) {
	var v int32
	if on {
		v = 1
	}
	atomic.StoreInt32(&repo.failing, v)
}

type testApp struct {
	*Server
	conf    *core.Config
	stores  testutil.Stores
	courses *flakyCourses
}

func setup(t *testing.T, configure ...func(conf *core.Config)) *testApp {
	conf := &core.Config{
		Env:       "TEST",
		TestMode:  true,
		AppName:   "LMS",
		SecretKey: "test-secret-key",
		Server:    core.ServerConfig{JWTExpirationDelta: time.Hour},
		Sweep:     core.SweepConfig{StaleAfter: 10 * time.Minute, MaxAttempts: 5},
	}
	for _, fn := range configure {
		fn(conf)
	}
	app := &testApp{conf: conf, stores: testutil.NewStores()}
	app.courses = &flakyCourses{Repository: app.stores.Courses}

	validate, translator := core.NewValidator()
	lgr := testutil.NewLogger()

	ledger := purchase.NewLedger(app.stores.Purchases, validate, lgr)
	applier := enrollment.NewApplier(ledger, app.stores.Users, app.courses, lgr)

	app.Server = NewServer(ServerDeps{
		Conf:           conf,
		Logger:         lgr,
		Users:          app.stores.Users,
		Courses:        app.courses,
		Ledger:         ledger,
		Reconciler:     reconcile.NewService(ledger, applier, lgr),
		Sweeper:        reconcile.NewSweeper(ledger, applier, lgr, conf.Sweep),
		Payments:       stripesvc.NewProvider(webhookSecret),
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func (app *testApp) getPurchase(t *testing.T, id string) purchase.Purchase {
	p, err := app.stores.Purchases.GetPurchase(context.Background(), id)
	if err != nil {
		t.Fatalf("GetPurchase() failed: %v", err)
	}
	return p
}

func (app *testApp) getUser(t *testing.T, id string) user.User {
	usr, err := app.stores.Users.GetUser(context.Background(), id)
	if err != nil {
		t.Fatalf("GetUser() failed: %v", err)
	}
	return usr
}

func (app *testApp) getCourse(t *testing.T, id string) course.Course {
	crs, err := app.stores.Courses.GetCourse(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCourse() failed: %v", err)
	}
	return crs
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

func newWebhookRequest(payload []byte, signature string) (*http.Request, *httptest.ResponseRecorder) {
	req, rec := newRequest(http.MethodPost, "/v1/webhooks/stripe", payload)
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	return req, rec
}

func getToken(t *testing.T, usr user.User, conf *core.Config) string {
	claims := GetUserClaims(usr, conf)
	token, err := GenerateToken(claims, conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	assert.Equal(t, tt.wantCode, rec.Code, "status code")
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
