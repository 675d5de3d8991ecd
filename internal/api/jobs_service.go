package api

import (
	"context"

	"vodwatch/internal/jobs"
)

// JobsService projects store records into API views.
type JobsService struct {
	store *jobs.Store
}

// NewJobsService constructs the job view service.
func NewJobsService(store *jobs.Store) *JobsService {
	return &JobsService{store: store}
}

// List returns jobs filtered by optional states.
func (s *JobsService) List(ctx context.Context, states ...jobs.State) ([]JobView, error) {
	records, err := s.store.List(ctx, states...)
	if err != nil {
		return nil, err
	}
	views := make([]JobView, 0, len(records))
	for _, record := range records {
		views = append(views, FromJob(record))
	}
	return views, nil
}

// Describe returns one job with its retry history, or nil when absent.
func (s *JobsService) Describe(ctx context.Context, id string) (*JobDetailResponse, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	attempts, err := s.store.AttemptsForJob(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &JobDetailResponse{Job: FromJob(job)}
	for _, attempt := range attempts {
		detail.Attempts = append(detail.Attempts, AttemptView{
			AttemptNumber: attempt.AttemptNumber,
			AttemptedAt:   attempt.AttemptedAt,
			Success:       attempt.Success,
			Error:         attempt.Error,
		})
	}
	return detail, nil
}

// Register creates a tracked job.
func (s *JobsService) Register(ctx context.Context, req RegisterJobRequest) (JobView, error) {
	job, err := s.store.Create(ctx, req.Title, req.ExternalID)
	if err != nil {
		return JobView{}, err
	}
	return FromJob(job), nil
}

// Counts aggregates per-state job counts.
func (s *JobsService) Counts(ctx context.Context) (StateCounts, error) {
	health, err := s.store.Health(ctx)
	if err != nil {
		return StateCounts{}, err
	}
	return FromHealth(health), nil
}

// FromJob converts a store record into its wire view.
func FromJob(job *jobs.Job) JobView {
	return JobView{
		ID:              job.ID,
		ExternalID:      job.ExternalID,
		Title:           job.Title,
		State:           string(job.State),
		ProgressPercent: job.ProgressPercent,
		ErrorCode:       job.ErrorCode,
		ErrorMessage:    job.ErrorMessage,
		DurationSeconds: job.DurationSeconds,
		PlaybackURL:     job.PlaybackURL,
		Revision:        job.Revision,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

// FromHealth converts a store health summary into wire counts.
func FromHealth(health jobs.HealthSummary) StateCounts {
	return StateCounts{
		Total:      health.Total,
		Queued:     health.Queued,
		InProgress: health.InProgress,
		Ready:      health.Ready,
		Failed:     health.Failed,
	}
}
