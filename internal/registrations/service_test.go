package registrations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/campustest"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/internal/sessions"
)

type declineGateway struct{}

func (declineGateway) Capture(ctx context.Context, req PaymentRequest) (models.Payment, error) {
	return models.Payment{}, ErrDeclined
}
func (declineGateway) Refund(ctx context.Context, ref string) error { return nil }

type fixture struct {
	*campustest.Fixture
	svc      *Service
	sessions *sessions.Repository
	gateway  *SimulatedGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := campustest.New()
	gw := NewSimulatedGateway()
	svc := NewService(f.Store, f.Guard, gw, f.Dispatcher, nil)
	svc.SetClock(f.Clock.Now)
	return &fixture{Fixture: f, svc: svc, sessions: sessions.NewRepository(f.Store), gateway: gw}
}

func (f *fixture) session(t *testing.T, id string, status models.SessionStatus, max *int, price float64) {
	t.Helper()
	date := campustest.Start.Add(7 * 24 * time.Hour)
	require.NoError(t, f.sessions.Create(context.Background(), models.Session{
		ID: id, Title: id, AuthorID: campustest.Speaker.UID, Status: status,
		CreatedAt: campustest.Start, Date: &date, MaxAttendees: max, Price: price,
	}))
}

func (f *fixture) stored(t *testing.T, id string) models.Session {
	t.Helper()
	s, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func intPtr(i int) *int { return &i }

func TestRegisterIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "s1", models.SessionApproved, nil, 0)

	reg, err := f.svc.Register(ctx, campustest.Student, "s1", RegisterInput{})
	require.NoError(t, err)
	assert.Equal(t, "s1_"+campustest.Student.UID, reg.ID)
	assert.Equal(t, models.PaymentStatusFree, reg.PaymentStatus)
	assert.Equal(t, "Stu One", reg.AttendeeName)

	again, err := f.svc.Register(ctx, campustest.Student, "s1", RegisterInput{})
	assert.True(t, errors.Is(err, apperr.ErrAlreadyRegistered))
	assert.True(t, apperr.IsInformational(err))
	assert.Equal(t, reg.ID, again.ID)

	s := f.stored(t, "s1")
	assert.Equal(t, 1, s.AttendeeCount)
	assert.Equal(t, 1, s.ReservedSeats)
}

func TestCapacityUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "s1", models.SessionApproved, intPtr(3), 0)
	students := f.AddStudents(10)

	var wg sync.WaitGroup
	errs := make([]error, len(students))
	for i, st := range students {
		wg.Add(1)
		go func(i int, st authz.Identity) {
			defer wg.Done()
			_, errs[i] = f.svc.Register(ctx, st, "s1", RegisterInput{})
		}(i, st)
	}
	wg.Wait()

	ok, full := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrCapacityExceeded):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, full)

	_, err := f.svc.Register(ctx, campustest.Student, "s1", RegisterInput{})
	assert.True(t, errors.Is(err, apperr.ErrCapacityExceeded))

	// Settle the recompute counter before checking it.
	_, err = NewAttendeeCounter(f.Store).Reconcile(ctx, "s1")
	require.NoError(t, err)
	s := f.stored(t, "s1")
	assert.Equal(t, 3, s.AttendeeCount)
	assert.Equal(t, 3, s.ReservedSeats)
}

func TestRegisterRequiresApprovedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "pending", models.SessionPending, nil, 0)
	f.session(t, "rejected", models.SessionRejected, nil, 0)
	f.session(t, "approved", models.SessionApproved, nil, 0)

	for _, id := range []string{"pending", "rejected"} {
		_, err := f.svc.Register(ctx, campustest.Student, id, RegisterInput{})
		assert.True(t, errors.Is(err, apperr.ErrInvalidTransition), id)
	}

	f.Clock.Advance(8 * 24 * time.Hour)
	_, err := f.svc.Register(ctx, campustest.Student, "approved", RegisterInput{})
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
	assert.Equal(t, 0, f.stored(t, "approved").ReservedSeats)

	_, err = f.svc.Register(ctx, campustest.Student, "missing", RegisterInput{})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.svc.Register(ctx, campustest.Faculty, "approved", RegisterInput{})
	assert.True(t, apperr.IsForbidden(err))
}

func TestUnregisterAndReregister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "s1", models.SessionApproved, intPtr(1), 0)

	_, err := f.svc.Register(ctx, campustest.Student, "s1", RegisterInput{})
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, campustest.Student2, "s1", RegisterInput{})
	require.True(t, errors.Is(err, apperr.ErrCapacityExceeded))

	require.NoError(t, f.svc.Unregister(ctx, campustest.Student, "s1"))
	s := f.stored(t, "s1")
	assert.Equal(t, 0, s.AttendeeCount)
	assert.Equal(t, 0, s.ReservedSeats)

	err = f.svc.Unregister(ctx, campustest.Student, "s1")
	assert.True(t, errors.Is(err, apperr.ErrNotRegistered))
	err = f.svc.Unregister(ctx, campustest.Student2, "s1")
	assert.True(t, errors.Is(err, apperr.ErrNotRegistered))

	_, err = f.svc.Register(ctx, campustest.Student2, "s1", RegisterInput{})
	require.NoError(t, err)
	require.NoError(t, f.svc.Unregister(ctx, campustest.Student2, "s1"))

	reg, err := f.svc.Register(ctx, campustest.Student, "s1", RegisterInput{})
	require.NoError(t, err)
	assert.False(t, reg.Cancelled)
	active, err := f.svc.Repository().IsActive(ctx, "s1", campustest.Student.UID)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, 1, f.stored(t, "s1").AttendeeCount)
}

func TestPaidRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "paid", models.SessionApproved, intPtr(5), 12.5)

	_, err := f.svc.Register(ctx, campustest.Student, "paid", RegisterInput{})
	require.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, 0, f.stored(t, "paid").ReservedSeats)

	reg, err := f.svc.Register(ctx, campustest.Student, "paid", RegisterInput{Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, reg.PaymentStatus)
	assert.Equal(t, 12.5, reg.PaymentAmount)
	assert.NotEmpty(t, reg.PaymentRef)
	assert.Equal(t, 1, f.gateway.Captured())

	require.NoError(t, f.svc.Unregister(ctx, campustest.Student, "paid"))
	got, err := f.svc.Repository().Get(ctx, "paid", campustest.Student.UID)
	require.NoError(t, err)
	assert.True(t, got.Cancelled)
	assert.Equal(t, models.PaymentStatusRefunded, got.PaymentStatus)
	assert.Equal(t, 0, f.gateway.Captured())
}

func TestPaymentFailureReleasesSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "paid", models.SessionApproved, intPtr(1), 10)
	f.svc.payments = declineGateway{}

	_, err := f.svc.Register(ctx, campustest.Student, "paid", RegisterInput{Confirm: true})
	require.True(t, errors.Is(err, apperr.ErrPaymentFailed))
	s := f.stored(t, "paid")
	assert.Equal(t, 0, s.ReservedSeats)
	assert.Equal(t, 0, s.AttendeeCount)
	_, err = f.svc.Repository().Get(ctx, "paid", campustest.Student.UID)
	assert.Error(t, err)
}

func TestAttendeeCountMatchesLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "s1", models.SessionApproved, nil, 0)
	students := f.AddStudents(6)

	var wg sync.WaitGroup
	for i, st := range students {
		wg.Add(1)
		go func(i int, st authz.Identity) {
			defer wg.Done()
			_, _ = f.svc.Register(ctx, st, "s1", RegisterInput{})
			if i%2 == 0 {
				_ = f.svc.Unregister(ctx, st, "s1")
			}
		}(i, st)
	}
	wg.Wait()

	// Concurrent recomputes may leave a stale value; the next one settles it.
	_, err := NewAttendeeCounter(f.Store).Reconcile(ctx, "s1")
	require.NoError(t, err)
	active, err := f.svc.Repository().ListActive(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, active, 3)
	assert.Equal(t, 3, f.stored(t, "s1").AttendeeCount)
	assert.Equal(t, 3, f.stored(t, "s1").ReservedSeats)
}

func TestListRegistrations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.session(t, "s1", models.SessionApproved, nil, 0)
	_, err := f.svc.Register(ctx, campustest.Student, "s1", RegisterInput{})
	require.NoError(t, err)

	list, err := f.svc.List(ctx, campustest.Faculty, "s1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, campustest.Student.UID, list[0].AttendeeID)

	list, err = f.svc.List(ctx, campustest.Speaker, "s1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.List(ctx, campustest.Student, "s1")
	assert.True(t, apperr.IsForbidden(err))
}
