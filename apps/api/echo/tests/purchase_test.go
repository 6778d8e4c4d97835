package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/lms/apps/api/echo"
	"github.com/trezcool/lms/core/course"
	"github.com/trezcool/lms/core/purchase"
	"github.com/trezcool/lms/core/reconcile"
	"github.com/trezcool/lms/core/user"
	"github.com/trezcool/lms/tests"
)

func Test_purchaseApi_create(t *testing.T) {
	app := setup(t)
	usr := testutil.CreateUser(t, app.stores.Users, "u1", "User One", user.RoleStudent)
	crs := testutil.CreateCourse(t, app.stores.Courses, "c1", "Go 101", 75)
	owned := testutil.CreateCourse(t, app.stores.Courses, "c2", "Owned", 20)
	now := time.Now().UTC()
	draft, err := app.stores.Courses.CreateCourse(context.Background(), course.Course{
		ID: "c3", Title: "Draft", EducatorID: "educator", Price: decimal.NewFromInt(10), CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	usr.AddEnrolledCourse(owned.ID)
	require.NoError(t, app.stores.Users.SaveUser(context.Background(), usr))

	token := getToken(t, usr, app.conf)
	stranger := getToken(t, user.User{ID: "ghost", Name: "Ghost"}, app.conf)
	body := func(courseID string) []byte {
		return marchallObj(t, CreatePurchaseRequest{CourseID: courseID})
	}

	tests := []httpTest{
		{
			name:     "no token",
			body:     body(crs.ID),
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "invalid token",
			body:     body(crs.ID),
			token:    "not.a.token",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "invalid or expired jwt"}),
		},
		{
			name:     "missing course id",
			body:     []byte(`{}`),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"course_id": "this field is required"}),
		},
		{
			name:     "unregistered user",
			body:     body(crs.ID),
			token:    stranger,
			wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "user not registered"}),
		},
		{
			name:     "unknown course",
			body:     body("c404"),
			token:    token,
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "course not found"}),
		},
		{
			name:     "unpublished course",
			body:     body(draft.ID),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "course is not available for purchase"}),
		},
		{
			name:     "already enrolled",
			body:     body(owned.ID),
			token:    token,
			wantCode: http.StatusConflict,
			wantData: marchallObj(t, httpErr{Error: "already enrolled in this course"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/purchases", tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("create then resume", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/purchases", token, body(crs.ID))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var created purchase.Purchase
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, usr.ID, created.UserID)
		assert.Equal(t, crs.ID, created.CourseID)
		assert.Equal(t, purchase.StatusPending, created.Status)
		assert.True(t, crs.Price.Equal(created.Amount), "amount = %s; want %s", created.Amount, crs.Price)

		req, rec = newAuthRequest(http.MethodPost, "/v1/purchases", token, body(crs.ID))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resumed purchase.Purchase
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resumed))
		assert.Equal(t, created.ID, resumed.ID)
	})
}

func Test_purchaseApi_retrieve(t *testing.T) {
	app := setup(t)
	owner := testutil.CreateUser(t, app.stores.Users, "u1", "Owner", user.RoleStudent)
	other := testutil.CreateUser(t, app.stores.Users, "u2", "Other", user.RoleStudent)
	admin := testutil.CreateUser(t, app.stores.Users, "a1", "Admin", user.RoleAdmin)
	crs := testutil.CreateCourse(t, app.stores.Courses, "c1", "Go 101", 50)
	p := testutil.CreatePurchase(t, app.stores.Purchases, owner.ID, crs.ID, purchase.StatusPending)

	path := "/v1/purchases/" + p.ID
	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
	}{
		{name: "no token", path: path, wantCode: http.StatusUnauthorized},
		{name: "owner", path: path, token: getToken(t, owner, app.conf), wantCode: http.StatusOK},
		{name: "other user", path: path, token: getToken(t, other, app.conf), wantCode: http.StatusForbidden},
		{name: "admin", path: path, token: getToken(t, admin, app.conf), wantCode: http.StatusOK},
		{name: "unknown", path: "/v1/purchases/nope", token: getToken(t, admin, app.conf), wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			if tt.wantCode == http.StatusOK {
				var got purchase.Purchase
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, p.ID, got.ID)
				assert.Equal(t, purchase.StatusPending, got.Status)
			}
		})
	}
}

func Test_purchaseApi_complete(t *testing.T) {
	app := setup(t)
	usr := testutil.CreateUser(t, app.stores.Users, "u1", "User One", user.RoleStudent)
	other := testutil.CreateUser(t, app.stores.Users, "u2", "User Two", user.RoleStudent)
	crs := testutil.CreateCourse(t, app.stores.Courses, "c1", "Go 101", 50)
	gone := testutil.CreateCourse(t, app.stores.Courses, "c2", "Gone", 50)
	flaky := testutil.CreateCourse(t, app.stores.Courses, "c3", "Flaky", 50)

	p1 := testutil.CreatePurchase(t, app.stores.Purchases, usr.ID, crs.ID, purchase.StatusPending)
	p2 := testutil.CreatePurchase(t, app.stores.Purchases, usr.ID, gone.ID, purchase.StatusPending)
	p3 := testutil.CreatePurchase(t, app.stores.Purchases, usr.ID, flaky.ID, purchase.StatusPending)
	require.NoError(t, app.stores.Courses.DeleteCourse(context.Background(), gone.ID))

	token := getToken(t, usr, app.conf)
	body := func(purchaseID string) []byte {
		return marchallObj(t, CompletePurchaseRequest{PurchaseID: purchaseID})
	}

	tests := []struct {
		httpTest
		flaky      bool
		purchaseID string
		wantStatus purchase.Status
	}{
		{
			httpTest: httpTest{
				name:     "no token",
				body:     body(p1.ID),
				wantCode: http.StatusUnauthorized,
				wantData: marchallObj(t, errMissingToken),
			},
		},
		{
			httpTest: httpTest{
				name:     "missing purchase id",
				body:     []byte(`{}`),
				token:    token,
				wantCode: http.StatusBadRequest,
				wantData: marchallObj(t, map[string]string{"purchase_id": "this field is required"}),
			},
		},
		{
			httpTest: httpTest{
				name:     "unknown purchase",
				body:     body("nope"),
				token:    token,
				wantCode: http.StatusNotFound,
				wantData: marchallObj(t, errNotFound),
			},
		},
		{
			httpTest: httpTest{
				name:     "not owner",
				body:     body(p1.ID),
				token:    getToken(t, other, app.conf),
				wantCode: http.StatusForbidden,
				wantData: marchallObj(t, errForbidden),
			},
			purchaseID: p1.ID,
			wantStatus: purchase.StatusPending,
		},
		{
			httpTest: httpTest{
				name:     "enrolled",
				body:     body(p1.ID),
				token:    token,
				wantCode: http.StatusOK,
				wantData: marchallObj(t, CompletionResponse{
					Success:     true,
					Kind:        reconcile.CompletionEnrolled,
					Message:     "Enrollment successful.",
					CourseTitle: crs.Title,
				}),
			},
			purchaseID: p1.ID,
			wantStatus: purchase.StatusCompleted,
		},
		{
			httpTest: httpTest{
				name:     "already enrolled",
				body:     body(p1.ID),
				token:    token,
				wantCode: http.StatusOK,
				wantData: marchallObj(t, CompletionResponse{
					Success:     true,
					Kind:        reconcile.CompletionAlreadyEnrolled,
					Message:     "You are already enrolled in this course.",
					CourseTitle: crs.Title,
				}),
			},
			purchaseID: p1.ID,
			wantStatus: purchase.StatusCompleted,
		},
		{
			httpTest: httpTest{
				name:     "dangling course",
				body:     body(p2.ID),
				token:    token,
				wantCode: http.StatusUnprocessableEntity,
				wantData: marchallObj(t, CompletionResponse{
					Kind:    reconcile.CompletionFailed,
					Message: "Enrollment failed, please contact support.",
				}),
			},
			purchaseID: p2.ID,
			wantStatus: purchase.StatusFailed,
		},
		{
			httpTest: httpTest{
				name:     "still pending",
				body:     body(p3.ID),
				token:    token,
				wantCode: http.StatusServiceUnavailable,
				wantData: marchallObj(t, CompletionResponse{
					Kind:    reconcile.CompletionPending,
					Message: "Your purchase is still pending, please try again shortly.",
				}),
			},
			flaky:      true,
			purchaseID: p3.ID,
			wantStatus: purchase.StatusPending,
		},
		{
			httpTest: httpTest{
				name:     "recovered",
				body:     body(p3.ID),
				token:    token,
				wantCode: http.StatusOK,
				wantData: marchallObj(t, CompletionResponse{
					Success:     true,
					Kind:        reconcile.CompletionEnrolled,
					Message:     "Enrollment successful.",
					CourseTitle: flaky.Title,
				}),
			},
			purchaseID: p3.ID,
			wantStatus: purchase.StatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app.courses.fail(tt.flaky)
			defer app.courses.fail(false)

			req, rec := newAuthRequest(http.MethodPost, "/v1/purchases/complete", tt.token, tt.body)
			app.ServeHTTP(rec, req)

			checkCodeAndData(t, tt.httpTest, rec)
			if tt.purchaseID != "" {
				assert.Equal(t, tt.wantStatus, app.getPurchase(t, tt.purchaseID).Status)
			}
		})
	}

	assert.ElementsMatch(t, []string{crs.ID, flaky.ID}, app.getUser(t, usr.ID).EnrolledCourses)
	assert.Equal(t, []string{usr.ID}, app.getCourse(t, crs.ID).EnrolledStudents)
	assert.Empty(t, app.getUser(t, other.ID).EnrolledCourses)
}
