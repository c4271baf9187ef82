// Package campustest has a seeded in-memory store and helpers for testing
// the workflow services.
package campustest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/internal/notify"
	"github.com/campus-talks/backend/internal/users"
	"github.com/campus-talks/backend/pkg/docstore/memstore"
)

// Seeded identities.
var (
	Student        = authz.Identity{UID: "stu-1", Role: models.RoleStudent, Email: "stu1@uni.edu", Name: "Stu One"}
	Student2       = authz.Identity{UID: "stu-2", Role: models.RoleStudent, Email: "stu2@uni.edu", Name: "Stu Two"}
	Faculty        = authz.Identity{UID: "fac-1", Role: models.RoleFaculty, Email: "fac1@uni.edu", Name: "Prof One"}
	PendingFaculty = authz.Identity{UID: "fac-2", Role: models.RoleFaculty, Email: "fac2@uni.edu", Name: "Prof Two"}
	Speaker        = authz.Identity{UID: "spk-1", Role: models.RoleSpeaker, Email: "spk1@uni.edu", Name: "Spk One"}
)

// Start is the fixture clock's initial time.
var Start = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fixture time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Outbox records dispatched notifications.
type Outbox struct {
	mu   sync.Mutex
	sent []notify.Notification
}

// Notify implements notify.Notifier.
func (o *Outbox) Notify(ctx context.Context, n notify.Notification) error {
	o.mu.Lock()
	o.sent = append(o.sent, n)
	o.mu.Unlock()
	return nil
}

// Events returns the events sent so far, in order.
func (o *Outbox) Events() []notify.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]notify.Event, len(o.sent))
	for i, n := range o.sent {
		out[i] = n.Event
	}
	return out
}

// Fixture wires a memory store with seeded users.
type Fixture struct {
	Store      *memstore.Store
	Users      *users.Repository
	Guard      *authz.Guard
	Clock      *Clock
	Outbox     *Outbox
	Dispatcher *notify.Dispatcher
}

// New returns a fixture seeded with the identities above. The new faculty
// account is not approved yet.
func New() *Fixture {
	store := memstore.New()
	clock := &Clock{now: Start}
	store.SetClock(clock.Now)
	repo := users.NewRepository(store)
	ctx := context.Background()
	for _, id := range []authz.Identity{Student, Student2, Faculty, PendingFaculty, Speaker} {
		p := models.UserProfile{
			UID:        id.UID,
			Email:      id.Email,
			Name:       id.Name,
			Role:       id.Role,
			IsApproved: id.UID != PendingFaculty.UID && id.Role == models.RoleFaculty,
			CreatedAt:  Start,
		}
		if err := repo.Create(ctx, p, models.Credentials{PasswordHash: "x"}); err != nil {
			panic(err)
		}
	}
	outbox := &Outbox{}
	return &Fixture{
		Store:      store,
		Users:      repo,
		Guard:      authz.NewGuard(repo, nil),
		Clock:      clock,
		Outbox:     outbox,
		Dispatcher: notify.NewDispatcher(outbox, nil),
	}
}

// AddStudents seeds n extra students and returns their identities.
func (f *Fixture) AddStudents(n int) []authz.Identity {
	out := make([]authz.Identity, n)
	for i := range out {
		id := authz.Identity{
			UID:   "extra-" + strconv.Itoa(i),
			Role:  models.RoleStudent,
			Email: "extra" + strconv.Itoa(i) + "@uni.edu",
			Name:  "Extra " + strconv.Itoa(i),
		}
		p := models.UserProfile{UID: id.UID, Email: id.Email, Name: id.Name, Role: id.Role, CreatedAt: Start}
		if err := f.Users.Create(context.Background(), p, models.Credentials{PasswordHash: "x"}); err != nil {
			panic(err)
		}
		out[i] = id
	}
	return out
}

