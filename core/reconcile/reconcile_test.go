package reconcile_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/lms/core"
	"github.com/trezcool/lms/core/course"
	"github.com/trezcool/lms/core/enrollment"
	"github.com/trezcool/lms/core/payment"
	"github.com/trezcool/lms/core/purchase"
	"github.com/trezcool/lms/core/reconcile"
	"github.com/trezcool/lms/core/user"
	"github.com/trezcool/lms/tests"
)

var errTimeout = errors.New("i/o timeout")

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

// hookedUsers runs beforeSave ahead of each SaveUser.
type hookedUsers struct {
	user.Repository
	beforeSave func(ctx context.Context)
}

func (repo *hookedUsers) SaveUser(ctx context.Context, usr user.User) error {
	if repo.beforeSave != nil {
		repo.beforeSave(ctx)
	}
	return repo.Repository.SaveUser(ctx, usr)
}

type fixture struct {
	stores  testutil.Stores
	users   *hookedUsers
	courses *flakyCourses
	now     time.Time
	ledger  *purchase.Ledger
	svc     *reconcile.Service
	sweeper *reconcile.Sweeper
}

func setup(conf core.SweepConfig) *fixture {
	f := &fixture{
		stores: testutil.NewStores(),
		now:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.users = &hookedUsers{Repository: f.stores.Users}
	f.courses = &flakyCourses{Repository: f.stores.Courses}
	validate, _ := core.NewValidator()
	lgr := testutil.NewLogger()

	f.ledger = purchase.NewLedger(f.stores.Purchases, validate, lgr).WithClock(func() time.Time { return f.now })
	applier := enrollment.NewApplier(f.ledger, f.users, f.courses, lgr)
	f.svc = reconcile.NewService(f.ledger, applier, lgr)
	f.sweeper = reconcile.NewSweeper(f.ledger, applier, lgr, conf)
	return f
}

func (f *fixture) get(t *testing.T, id string) purchase.Purchase {
	t.Helper()
	p, err := f.ledger.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestService_HandlePaymentEvent(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		initial    purchase.Status
		kind       payment.EventKind
		unknown    bool
		wantErr    error
		wantStatus purchase.Status
		wantEdge   bool
	}{
		{name: "completed event enrolls", initial: purchase.StatusPending, kind: payment.EventCheckoutCompleted, wantStatus: purchase.StatusCompleted, wantEdge: true},
		{name: "duplicate completed event", initial: purchase.StatusCompleted, kind: payment.EventCheckoutCompleted, wantStatus: purchase.StatusCompleted},
		{name: "completed event on failed purchase", initial: purchase.StatusFailed, kind: payment.EventCheckoutCompleted, wantErr: enrollment.ErrAlreadyFailed, wantStatus: purchase.StatusFailed},
		{name: "unknown purchase", kind: payment.EventCheckoutCompleted, unknown: true, wantErr: purchase.ErrNotFound},
		{name: "failed event parks pending purchase", initial: purchase.StatusPending, kind: payment.EventPaymentFailed, wantStatus: purchase.StatusFailed},
		{name: "failed event after completion is ignored", initial: purchase.StatusCompleted, kind: payment.EventPaymentFailed, wantStatus: purchase.StatusCompleted},
		{name: "other events are ignored", initial: purchase.StatusPending, kind: payment.EventIgnored, wantStatus: purchase.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(core.SweepConfig{})
			testutil.CreateUser(t, f.stores.Users, "U1", "User 1")
			testutil.CreateCourse(t, f.stores.Courses, "C1", "Go 101", 50)

			purchaseID := "unknown"
			if !tt.unknown {
				purchaseID = testutil.CreatePurchase(t, f.stores.Purchases, "U1", "C1", tt.initial).ID
			}

			err := f.svc.HandlePaymentEvent(ctx, payment.Event{ID: "evt_1", Kind: tt.kind, PurchaseID: purchaseID})
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "error = %v; want %v", err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			if tt.unknown {
				return
			}

			assert.Equal(t, tt.wantStatus, f.get(t, purchaseID).Status)
			usr, err := f.stores.Users.GetUser(ctx, "U1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantEdge, usr.IsEnrolledIn("C1"))
		})
	}
}

func TestService_CompleteForUser(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		initial   purchase.Status
		caller    string
		unknown   bool
		noCourse  bool
		ioFailure bool
		wantErr   error
		wantKind  reconcile.CompletionKind
		wantTitle string
	}{
		{name: "not owner", initial: purchase.StatusPending, caller: "U2", wantErr: reconcile.ErrNotOwner},
		{name: "unknown purchase", caller: "U1", unknown: true, wantErr: purchase.ErrNotFound},
		{name: "enrolled", initial: purchase.StatusPending, caller: "U1", wantKind: reconcile.CompletionEnrolled, wantTitle: "Go 101"},
		{name: "already enrolled", initial: purchase.StatusCompleted, caller: "U1", wantKind: reconcile.CompletionAlreadyEnrolled, wantTitle: "Go 101"},
		{name: "course gone", initial: purchase.StatusPending, caller: "U1", noCourse: true, wantKind: reconcile.CompletionFailed},
		{name: "already failed", initial: purchase.StatusFailed, caller: "U1", wantKind: reconcile.CompletionFailed},
		{name: "backend down", initial: purchase.StatusPending, caller: "U1", ioFailure: true, wantKind: reconcile.CompletionPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(core.SweepConfig{})
			testutil.CreateUser(t, f.stores.Users, "U1", "User 1")
			testutil.CreateUser(t, f.stores.Users, "U2", "User 2")
			if !tt.noCourse {
				testutil.CreateCourse(t, f.stores.Courses, "C1", "Go 101", 50)
			}
			if tt.ioFailure {
				atomic.StoreInt32(&f.courses.failing, 1)
			}

			purchaseID := "unknown"
			if !tt.unknown {
				purchaseID = testutil.CreatePurchase(t, f.stores.Purchases, "U1", "C1", tt.initial).ID
			}

			comp, err := f.svc.CompleteForUser(ctx, tt.caller, purchaseID)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "error = %v; want %v", err, tt.wantErr)
				assert.Empty(t, comp.Kind)
				if !tt.unknown {
					assert.Equal(t, tt.initial, f.get(t, purchaseID).Status)
				}
				return
			}

			assert.Equal(t, tt.wantKind, comp.Kind)
			assert.NotEmpty(t, comp.Message)
			assert.Equal(t, tt.wantTitle, comp.CourseTitle)
			assert.Equal(t, comp.Kind == reconcile.CompletionEnrolled || comp.Kind == reconcile.CompletionAlreadyEnrolled, comp.Success())
			if comp.Success() {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
			if tt.ioFailure {
				assert.Equal(t, purchase.StatusPending, f.get(t, purchaseID).Status)
			}
		})
	}
}

// failWhileApplying delivers a payment-failed event for the purchase while Apply is linking it.
func (f *fixture) failWhileApplying(t *testing.T, purchaseID string) {
	var once sync.Once
	f.users.beforeSave = func(ctx context.Context) {
		once.Do(func() {
			err := f.svc.HandlePaymentEvent(ctx, payment.Event{ID: "evt_failed", Kind: payment.EventPaymentFailed, PurchaseID: purchaseID})
			require.NoError(t, err)
		})
	}
}

func (f *fixture) checkNotLinked(t *testing.T, userID, courseID string) {
	t.Helper()
	ctx := context.Background()
	usr, err := f.stores.Users.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, usr.EnrolledCourses)
	crs, err := f.stores.Courses.GetCourse(ctx, courseID)
	require.NoError(t, err)
	assert.Empty(t, crs.EnrolledStudents)
}

func TestService_CompleteForUser_paymentFailedMeanwhile(t *testing.T) {
	ctx := context.Background()
	f := setup(core.SweepConfig{})
	testutil.CreateUser(t, f.stores.Users, "U1", "User 1")
	testutil.CreateCourse(t, f.stores.Courses, "C1", "Go 101", 50)
	p := testutil.CreatePurchase(t, f.stores.Purchases, "U1", "C1", purchase.StatusPending)
	f.failWhileApplying(t, p.ID)

	comp, err := f.svc.CompleteForUser(ctx, "U1", p.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, enrollment.ErrAlreadyFailed), err)
	assert.Equal(t, reconcile.CompletionFailed, comp.Kind)
	assert.Equal(t, "Enrollment failed, please contact support.", comp.Message)
	assert.Equal(t, purchase.StatusFailed, comp.Purchase.Status)
	assert.False(t, comp.Success())

	assert.Equal(t, purchase.StatusFailed, f.get(t, p.ID).Status)
	f.checkNotLinked(t, "U1", "C1")
}

func TestSweeper_Run_paymentFailedMeanwhile(t *testing.T) {
	ctx := context.Background()
	f := setup(core.SweepConfig{StaleAfter: 10 * time.Minute, MaxAttempts: 5})
	testutil.CreateUser(t, f.stores.Users, "U1", "User 1")
	testutil.CreateCourse(t, f.stores.Courses, "C1", "Go 101", 50)
	p := testutil.CreatePurchase(t, f.stores.Purchases, "U1", "C1", purchase.StatusPending, f.now.Add(-time.Hour))
	f.failWhileApplying(t, p.ID)

	report, err := f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, reconcile.SweepReport{Scanned: 1, Skipped: 1}, report)

	got := f.get(t, p.ID)
	assert.Equal(t, purchase.StatusFailed, got.Status)
	assert.Zero(t, got.SweepAttempts)
	f.checkNotLinked(t, "U1", "C1")
}

func TestSweeper_Run(t *testing.T) {
	ctx := context.Background()
	f := setup(core.SweepConfig{StaleAfter: 10 * time.Minute, MaxAttempts: 5})
	testutil.CreateUser(t, f.stores.Users, "U1", "User 1")
	testutil.CreateUser(t, f.stores.Users, "U2", "User 2")
	testutil.CreateCourse(t, f.stores.Courses, "C1", "Go 101", 50)

	stale := testutil.CreatePurchase(t, f.stores.Purchases, "U1", "C1", purchase.StatusPending, f.now.Add(-11*time.Minute))
	fresh := testutil.CreatePurchase(t, f.stores.Purchases, "U2", "C1", purchase.StatusPending, f.now.Add(-9*time.Minute))
	dangling := testutil.CreatePurchase(t, f.stores.Purchases, "U1", "C-deleted", purchase.StatusPending, f.now.Add(-time.Hour))

	report, err := f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, reconcile.SweepReport{Scanned: 2, Completed: 1, Failed: 1}, report)

	assert.Equal(t, purchase.StatusCompleted, f.get(t, stale.ID).Status)
	assert.Equal(t, purchase.StatusPending, f.get(t, fresh.ID).Status)
	assert.Equal(t, purchase.StatusFailed, f.get(t, dangling.ID).Status)

	usr, err := f.stores.Users.GetUser(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, usr.EnrolledCourses)
	crs, err := f.stores.Courses.GetCourse(ctx, "C1")
	require.NoError(t, err)
	assert.Equal(t, []string{"U1"}, crs.EnrolledStudents)

	// the fresh purchase turns stale
	f.now = f.now.Add(2 * time.Minute)
	report, err = f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, reconcile.SweepReport{Scanned: 1, Completed: 1}, report)
	assert.Equal(t, purchase.StatusCompleted, f.get(t, fresh.ID).Status)
}

func TestSweeper_BoundedRetry(t *testing.T) {
	ctx := context.Background()
	f := setup(core.SweepConfig{StaleAfter: 10 * time.Minute, MaxAttempts: 3})
	testutil.CreateUser(t, f.stores.Users, "U1", "User 1")
	testutil.CreateCourse(t, f.stores.Courses, "C1", "Go 101", 50)
	p := testutil.CreatePurchase(t, f.stores.Purchases, "U1", "C1", purchase.StatusPending, f.now.Add(-time.Hour))

	atomic.StoreInt32(&f.courses.failing, 1)
	for attempt := 1; attempt < 3; attempt++ {
		report, err := f.sweeper.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, reconcile.SweepReport{Scanned: 1, Retrying: 1}, report)

		got := f.get(t, p.ID)
		assert.Equal(t, purchase.StatusPending, got.Status)
		assert.Equal(t, attempt, got.SweepAttempts)
	}

	report, err := f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, reconcile.SweepReport{Scanned: 1, Failed: 1}, report)

	got := f.get(t, p.ID)
	assert.Equal(t, purchase.StatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(got.FailureReason, "sweep gave up after 3 attempts"), got.FailureReason)
	assert.Contains(t, got.FailureReason, errTimeout.Error())

	// nothing left to sweep
	report, err = f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, reconcile.SweepReport{}, report)
}

func TestSweeper_UnboundedRetry(t *testing.T) {
	ctx := context.Background()
	f := setup(core.SweepConfig{StaleAfter: 10 * time.Minute})
	testutil.CreateUser(t, f.stores.Users, "U1", "User 1")
	testutil.CreateCourse(t, f.stores.Courses, "C1", "Go 101", 50)
	p := testutil.CreatePurchase(t, f.stores.Purchases, "U1", "C1", purchase.StatusPending, f.now.Add(-time.Hour))

	atomic.StoreInt32(&f.courses.failing, 1)
	for i := 0; i < 10; i++ {
		_, err := f.sweeper.Run(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, purchase.StatusPending, f.get(t, p.ID).Status)

	atomic.StoreInt32(&f.courses.failing, 0)
	report, err := f.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, purchase.StatusCompleted, f.get(t, p.ID).Status)
}

func TestSweeper_Start(t *testing.T) {
	f := setup(core.SweepConfig{StaleAfter: time.Nanosecond})
	testutil.CreateUser(t, f.stores.Users, "U1", "User 1")
	testutil.CreateCourse(t, f.stores.Courses, "C1", "Go 101", 50)
	p := testutil.CreatePurchase(t, f.stores.Purchases, "U1", "C1", purchase.StatusPending, f.now.Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sweeper.Start(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		got, err := f.ledger.FindByID(context.Background(), p.ID)
		return err == nil && got.Status == purchase.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
