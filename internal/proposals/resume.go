package proposals

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/validate"
	"github.com/campus-talks/backend/pkg/storage"
)

// ErrResumeStorageDisabled is returned when no resume store is configured.
var ErrResumeStorageDisabled = errors.New("resume storage is not configured")

// ResumeStore holds uploaded resumes.
type ResumeStore interface {
	PresignUpload(ctx context.Context, key, contentType string) (string, error)
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	ObjectURL(key string) string
}

// ResumeUploadInput describes the file a student is about to upload.
type ResumeUploadInput struct {
	Filename    string `json:"filename" validate:"notblank,max=255"`
	ContentType string `json:"contentType"`
}

// ResumeUpload tells the client where to put the file and which link to
// submit with the proposal.
type ResumeUpload struct {
	Key       string `json:"key"`
	UploadURL string `json:"uploadUrl,omitempty"`
	ResumeURL string `json:"resumeUrl"`
}

// ResumeUploadURL returns a pre-signed upload link for the caller's resume.
func (s *Service) ResumeUploadURL(ctx context.Context, actor authz.Identity, in ResumeUploadInput) (ResumeUpload, error) {
	key, contentType, err := s.resumeKey(ctx, actor, in)
	if err != nil {
		return ResumeUpload{}, err
	}
	url, err := s.resumes.PresignUpload(ctx, key, contentType)
	if err != nil {
		return ResumeUpload{}, err
	}
	return ResumeUpload{Key: key, UploadURL: url, ResumeURL: s.resumes.ObjectURL(key)}, nil
}

// UploadResume stores the caller's resume server-side.
func (s *Service) UploadResume(ctx context.Context, actor authz.Identity, in ResumeUploadInput, body io.Reader, size int64) (ResumeUpload, error) {
	if size > storage.MaxResumeSize {
		return ResumeUpload{}, apperr.Validation("file", "must be at most 5MB")
	}
	key, contentType, err := s.resumeKey(ctx, actor, in)
	if err != nil {
		return ResumeUpload{}, err
	}
	url, err := s.resumes.Upload(ctx, key, contentType, io.LimitReader(body, storage.MaxResumeSize), size)
	if err != nil {
		return ResumeUpload{}, err
	}
	s.logger.Info("resume stored", zap.String("student_id", actor.UID), zap.String("key", key))
	return ResumeUpload{Key: key, ResumeURL: url}, nil
}

func (s *Service) resumeKey(ctx context.Context, actor authz.Identity, in ResumeUploadInput) (string, string, error) {
	profile, err := s.guard.Check(ctx, actor, authz.ActionSubmitProposal)
	if err != nil {
		return "", "", err
	}
	if s.resumes == nil {
		return "", "", ErrResumeStorageDisabled
	}
	if err := validate.Struct(in); err != nil {
		return "", "", err
	}
	contentType, ok := storage.ResumeContentType(in.ContentType, in.Filename)
	if !ok {
		return "", "", apperr.Validation("contentType", "must be a PDF or Word document")
	}
	return storage.ResumeKey(profile.UID, contentType), contentType, nil
}
