package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/rpattn/tabimport/internal/auth"
	"github.com/rpattn/tabimport/internal/domain"
)

// attachableStatuses are the job states that still accept uploads.
// Once a job is submitted for approval its inputs are frozen.
var attachableStatuses = map[domain.JobStatus]struct{}{
	domain.JobStatusUploaded:  {},
	domain.JobStatusDetected:  {},
	domain.JobStatusMapped:    {},
	domain.JobStatusValidated: {},
	domain.JobStatusError:     {},
}

// AttachFile stores one uploaded file on the job. Unsupported file
// types are rejected up front and leave the job untouched.
func (s *Service) AttachFile(ctx context.Context, jobID uuid.UUID, fileName string, content []byte) (domain.SourceFile, error) {
	unlock := s.lockJob(jobID)
	defer unlock()

	job, err := s.deps.Jobs.Get(ctx, jobID)
	if err != nil {
		return domain.SourceFile{}, err
	}
	if err := auth.EnforceTenantScope(ctx, job.TenantID); err != nil {
		return domain.SourceFile{}, err
	}
	if _, ok := attachableStatuses[job.Status]; !ok {
		return domain.SourceFile{}, fmt.Errorf("job %s is %s: files can no longer be attached", job.ID, job.Status)
	}

	hash := sha256.Sum256(content)
	file, err := domain.NewSourceFile(jobID, fileName, hex.EncodeToString(hash[:]), content)
	if err != nil {
		return domain.SourceFile{}, err
	}

	if err := s.deps.Files.Create(ctx, file); err != nil {
		return domain.SourceFile{}, fmt.Errorf("failed to store file %s: %w", fileName, err)
	}

	job.AppendNote(fmt.Sprintf("attached file %s (%d bytes)", fileName, len(content)))
	if err := s.deps.Jobs.Update(ctx, job); err != nil {
		return domain.SourceFile{}, err
	}

	s.emit(ctx, job, "file.attached", actorFrom(ctx).ID)
	return file, nil
}
