package proposals

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/campustest"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/internal/notify"
	"github.com/campus-talks/backend/internal/users"
)

type resumeStub struct{ uploaded []string }

func (r *resumeStub) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	return "https://upload.test/" + key + "?sig=1", nil
}

func (r *resumeStub) Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return "", err
	}
	r.uploaded = append(r.uploaded, key)
	return r.ObjectURL(key), nil
}

func (r *resumeStub) ObjectURL(key string) string { return "https://files.test/" + key }

type fixture struct {
	*campustest.Fixture
	svc     *Service
	repo    *Repository
	resumes *resumeStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := campustest.New()
	promoter := users.NewService(f.Users, f.Guard, nil)
	promoter.SetClock(f.Clock.Now)
	repo := NewRepository(f.Store)
	resumes := &resumeStub{}
	svc := NewService(repo, f.Guard, promoter, resumes, f.Dispatcher, nil)
	svc.SetClock(f.Clock.Now)
	return &fixture{Fixture: f, svc: svc, repo: repo, resumes: resumes}
}

func validSubmit() SubmitInput {
	return SubmitInput{Year: "3rd", Resume: "https://files.test/resumes/stu-1/cv.pdf", LinkedIn: "https://linkedin.com/in/stu"}
}

var tomorrow = ScheduleInput{Date: "2026-03-03", Time: "10:00", Venue: "Room 101"}

// scheduled walks a new proposal by Student up to a scheduled interview.
func (f *fixture) scheduled(t *testing.T) models.SpeakerProposal {
	t.Helper()
	ctx := context.Background()
	p, err := f.svc.Submit(ctx, campustest.Student, validSubmit())
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, campustest.Faculty, p.ID)
	require.NoError(t, err)
	p, err = f.svc.Schedule(ctx, campustest.Faculty, p.ID, tomorrow)
	require.NoError(t, err)
	return p
}

func count(events []notify.Event, e notify.Event) int {
	n := 0
	for _, got := range events {
		if got == e {
			n++
		}
	}
	return n
}

func TestProposalEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Submit(ctx, campustest.Student, validSubmit())
	require.NoError(t, err)
	assert.Equal(t, models.ProposalPending, p.Status)
	assert.Equal(t, "Stu One", p.Name)
	assert.Equal(t, campustest.Student.Email, p.Email)
	assert.True(t, strings.HasPrefix(p.ID, campustest.Student.UID+"_"))

	p, err = f.svc.Approve(ctx, campustest.Faculty, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalApproved, p.Status)

	p, err = f.svc.Schedule(ctx, campustest.Faculty, p.ID, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalScheduled, p.Status)
	assert.Equal(t, "Room 101", p.InterviewVenue)
	require.NotNil(t, p.InterviewTimestamp)
	assert.True(t, p.InterviewTimestamp.Equal(time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)))

	_, err = f.svc.Finalize(ctx, campustest.Faculty, p.ID, FinalizeInput{Decision: DecisionApprove})
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))

	f.Clock.Advance(48 * time.Hour)
	got, err := f.svc.Get(ctx, campustest.Faculty, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalInterviewCompleted, got.Status)

	out, err := f.svc.Finalize(ctx, campustest.Faculty, p.ID, FinalizeInput{Decision: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, models.ProposalFinalApproved, out.Proposal.Status)
	assert.Empty(t, out.Warning)
	require.NotNil(t, out.Promotion)
	assert.True(t, out.Promotion.Promoted)

	profile, err := f.Users.GetProfile(ctx, campustest.Student.UID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSpeaker, profile.Role)
	require.NotNil(t, profile.PromotedAt)
	require.NotNil(t, profile.PromotedBy)
	assert.Equal(t, campustest.Faculty.UID, *profile.PromotedBy)
	promotedAt := *profile.PromotedAt

	f.Clock.Advance(time.Hour)
	again, err := f.svc.Finalize(ctx, campustest.Faculty, p.ID, FinalizeInput{Decision: DecisionDisapprove, Message: "changed mind"})
	assert.True(t, errors.Is(err, apperr.ErrAlreadyFinalized))
	assert.Equal(t, models.ProposalFinalApproved, again.Proposal.Status)

	profile, err = f.Users.GetProfile(ctx, campustest.Student.UID)
	require.NoError(t, err)
	assert.True(t, promotedAt.Equal(*profile.PromotedAt))
	assert.Equal(t, 1, count(f.Outbox.Events(), notify.EventSpeakerPromoted))
	assert.Equal(t, 1, count(f.Outbox.Events(), notify.EventProposalFinalApproved))
}

func TestConcurrentFinalizePromotesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.scheduled(t)
	f.Clock.Advance(48 * time.Hour)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Finalize(ctx, campustest.Faculty, p.ID, FinalizeInput{Decision: DecisionApprove})
		}(i)
	}
	wg.Wait()

	ok, already := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrAlreadyFinalized):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, callers-1, already)
	assert.Equal(t, 1, count(f.Outbox.Events(), notify.EventSpeakerPromoted))
}

func TestRejectNeedsMessageAndIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Submit(ctx, campustest.Student, validSubmit())
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, campustest.Faculty, p.ID, RejectInput{Message: " "})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	p, err = f.svc.Reject(ctx, campustest.Faculty, p.ID, RejectInput{Message: "needs more experience"})
	require.NoError(t, err)
	assert.Equal(t, models.ProposalRejected, p.Status)
	assert.Equal(t, "needs more experience", p.RejectionMessage)

	_, err = f.svc.Approve(ctx, campustest.Faculty, p.ID)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
	_, err = f.svc.Schedule(ctx, campustest.Faculty, p.ID, tomorrow)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
	_, err = f.svc.Finalize(ctx, campustest.Faculty, p.ID, FinalizeInput{Decision: DecisionApprove})
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))

	_, err = f.svc.Approve(ctx, campustest.Student, p.ID)
	assert.True(t, apperr.IsForbidden(err))
	_, err = f.svc.Approve(ctx, campustest.PendingFaculty, p.ID)
	assert.True(t, apperr.IsForbidden(err))
}

func TestScheduleRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.svc.Submit(ctx, campustest.Student, validSubmit())
	require.NoError(t, err)

	_, err = f.svc.Schedule(ctx, campustest.Faculty, p.ID, tomorrow)
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition), "pending proposals cannot be scheduled")

	_, err = f.svc.Approve(ctx, campustest.Faculty, p.ID)
	require.NoError(t, err)

	for _, in := range []ScheduleInput{
		{Date: "2026-03-03", Time: "10:00"},
		{Date: "03/03/2026", Time: "10:00", Venue: "Room 1"},
		{Date: "2026-03-03", Time: "", Venue: "Room 1"},
		{Date: "2026-03-01", Time: "10:00", Venue: "Room 1"},
	} {
		_, err = f.svc.Schedule(ctx, campustest.Faculty, p.ID, in)
		assert.True(t, errors.Is(err, apperr.ErrValidation), "%+v", in)
	}

	_, err = f.svc.Schedule(ctx, campustest.Faculty, p.ID, tomorrow)
	require.NoError(t, err)
	moved, err := f.svc.Schedule(ctx, campustest.Faculty, p.ID, ScheduleInput{Date: "2026-03-04", Time: "14:30", Venue: "Hall B"})
	require.NoError(t, err)
	assert.Equal(t, "Hall B", moved.InterviewVenue)
	assert.Equal(t, 2, count(f.Outbox.Events(), notify.EventInterviewScheduled))

	f.Clock.Advance(72 * time.Hour)
	_, err = f.svc.Schedule(ctx, campustest.Faculty, p.ID, ScheduleInput{Date: "2026-03-10", Time: "09:00", Venue: "Hall B"})
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition), "a past interview cannot be moved")
}

func TestDisapprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.scheduled(t)
	f.Clock.Advance(48 * time.Hour)

	_, err := f.svc.Finalize(ctx, campustest.Faculty, p.ID, FinalizeInput{Decision: DecisionDisapprove})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = f.svc.Finalize(ctx, campustest.Faculty, p.ID, FinalizeInput{Decision: "maybe"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	out, err := f.svc.Finalize(ctx, campustest.Faculty, p.ID, FinalizeInput{Decision: DecisionDisapprove, Message: "not ready yet"})
	require.NoError(t, err)
	assert.Equal(t, models.ProposalFinalDisapproved, out.Proposal.Status)
	assert.Equal(t, "not ready yet", out.Proposal.DisapprovalMessage)
	assert.Nil(t, out.Promotion)

	profile, err := f.Users.GetProfile(ctx, campustest.Student.UID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, profile.Role)
	assert.Nil(t, profile.PromotedAt)
}

// seedInterviewed stores a proposal whose interview is already over.
func (f *fixture) seedInterviewed(t *testing.T, id, studentID, email string) {
	t.Helper()
	at := campustest.Start.Add(-time.Hour)
	created, err := f.repo.Create(context.Background(), models.SpeakerProposal{
		ID: id, StudentID: studentID, Email: email, Name: "Seeded", Year: "2nd",
		Resume: "https://files.test/cv.pdf", Status: models.ProposalScheduled,
		CreatedAt: campustest.Start.Add(-48 * time.Hour), InterviewTimestamp: &at,
		InterviewDate: "2026-03-02", InterviewTime: "08:00", InterviewVenue: "Lab",
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestPromotionFallsBackToEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedInterviewed(t, "p-email", "", "STU2@uni.edu")

	out, err := f.svc.Finalize(ctx, campustest.Faculty, "p-email", FinalizeInput{Decision: DecisionApprove})
	require.NoError(t, err)
	require.NotNil(t, out.Promotion)
	assert.Equal(t, campustest.Student2.UID, out.Promotion.Profile.UID)
	assert.Equal(t, models.RoleSpeaker, out.Promotion.Profile.Role)
}

func TestPromotionTargetNotFoundIsNonFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedInterviewed(t, "p-ghost", "ghost", "ghost@nowhere.edu")

	out, err := f.svc.Finalize(ctx, campustest.Faculty, "p-ghost", FinalizeInput{Decision: DecisionApprove})
	require.NoError(t, err)
	assert.Equal(t, models.ProposalFinalApproved, out.Proposal.Status)
	assert.Nil(t, out.Promotion)
	assert.Contains(t, out.Warning, string(apperr.KindPromotionTargetNotFound))
	assert.Equal(t, 1, count(f.Outbox.Events(), notify.EventPromotionTargetNotFound))

	stored, err := f.repo.Get(ctx, "p-ghost")
	require.NoError(t, err)
	assert.Equal(t, models.ProposalFinalApproved, stored.Status)
}

func TestVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.scheduled(t)
	f.Clock.Advance(time.Minute)
	other, err := f.svc.Submit(ctx, campustest.Student2, validSubmit())
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, campustest.Student2, mine.ID)
	assert.True(t, apperr.IsForbidden(err))
	_, err = f.svc.Get(ctx, campustest.Speaker, mine.ID)
	assert.True(t, apperr.IsForbidden(err))

	list, err := f.svc.List(ctx, campustest.Student2, ListFilter{StudentID: campustest.Student.UID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, other.ID, list[0].ID)

	list, err = f.svc.List(ctx, campustest.Faculty, ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, other.ID, list[0].ID)

	f.Clock.Advance(48 * time.Hour)
	list, err = f.svc.List(ctx, campustest.Faculty, ListFilter{Status: models.ProposalInterviewCompleted})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	list, err = f.svc.List(ctx, campustest.Faculty, ListFilter{Status: models.ProposalScheduled})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validSubmit()
	in.Resume = "not a url"
	_, err := f.svc.Submit(ctx, campustest.Student, in)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	in = validSubmit()
	in.Year = ""
	_, err = f.svc.Submit(ctx, campustest.Student, in)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.Submit(ctx, campustest.Faculty, validSubmit())
	assert.True(t, apperr.IsForbidden(err))
}

func TestResumeUpload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.ResumeUploadURL(ctx, campustest.Student, ResumeUploadInput{Filename: "cv.pdf"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Key, "resumes/"+campustest.Student.UID+"/"))
	assert.Contains(t, out.UploadURL, out.Key)
	assert.Equal(t, "https://files.test/"+out.Key, out.ResumeURL)

	_, err = f.svc.ResumeUploadURL(ctx, campustest.Student, ResumeUploadInput{Filename: "cv.exe", ContentType: "application/x-msdownload"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	up, err := f.svc.UploadResume(ctx, campustest.Student, ResumeUploadInput{Filename: "cv.docx"}, strings.NewReader("doc"), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{up.Key}, f.resumes.uploaded)

	_, err = f.svc.UploadResume(ctx, campustest.Student, ResumeUploadInput{Filename: "cv.pdf"}, strings.NewReader(""), 50<<20)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	bare := NewService(f.repo, f.Guard, nil, nil, f.Dispatcher, nil)
	_, err = bare.ResumeUploadURL(ctx, campustest.Student, ResumeUploadInput{Filename: "cv.pdf"})
	assert.ErrorIs(t, err, ErrResumeStorageDisabled)
}
