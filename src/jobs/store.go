package jobs

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/models"
)

// ErrJobNotFound covers both unknown ids and jobs already evicted by the
// retention policy; callers cannot tell the two apart and do not need to.
var ErrJobNotFound = errors.New("job not found")

// maxMessages bounds the rolling progress log per job.
const maxMessages = 50

// Store keeps pipeline jobs in memory. Entries expire after the retention
// window so finished jobs do not accumulate; the session outlives the job.
type Store struct {
	mu        sync.Mutex
	cache     *cache.Cache
	retention time.Duration
}

func NewStore(retention time.Duration) *Store {
	return &Store{
		cache:     cache.New(retention, retention),
		retention: retention,
	}
}

// Create registers a new job with every step pending.
func (s *Store) Create(steps []models.JobStep) models.Job {
	job := models.Job{
		ID:     uuid.New().String(),
		Status: models.StepPending,
		Steps:  make([]models.JobStep, len(steps)),
	}
	copy(job.Steps, steps)
	for i := range job.Steps {
		job.Steps[i].Status = models.StepPending
	}
	s.cache.Set(job.ID, job, cache.DefaultExpiration)
	return job
}

// Get returns a snapshot of the job. Safe to call at arbitrary frequency
// while the pipeline runs.
func (s *Store) Get(id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached, found := s.cache.Get(id)
	if !found {
		return models.Job{}, ErrJobNotFound
	}
	job := cached.(models.Job)
	job.Steps = append([]models.JobStep(nil), job.Steps...)
	job.Messages = append([]string(nil), job.Messages...)
	return job, nil
}

func (s *Store) update(id string, apply func(*models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached, found := s.cache.Get(id)
	if !found {
		return ErrJobNotFound
	}
	job := cached.(models.Job)
	job.Steps = append([]models.JobStep(nil), job.Steps...)
	job.Messages = append([]string(nil), job.Messages...)
	apply(&job)
	s.cache.Set(id, job, cache.DefaultExpiration)
	return nil
}

func (s *Store) setStep(jobID, stepID, status string) error {
	return s.update(jobID, func(job *models.Job) {
		for i := range job.Steps {
			if job.Steps[i].ID == stepID {
				job.Steps[i].Status = status
				break
			}
		}
	})
}

// StartStep marks one step running and the job itself running.
func (s *Store) StartStep(jobID, stepID string) error {
	return s.update(jobID, func(job *models.Job) {
		job.Status = models.StepRunning
		for i := range job.Steps {
			if job.Steps[i].ID == stepID {
				job.Steps[i].Status = models.StepRunning
				break
			}
		}
	})
}

func (s *Store) CompleteStep(jobID, stepID string) error {
	return s.setStep(jobID, stepID, models.StepCompleted)
}

// FailStep marks the failing step and the job as errored. Steps that never
// ran stay pending, which tells the caller where the pipeline stopped.
func (s *Store) FailStep(jobID, stepID string, cause error) error {
	return s.update(jobID, func(job *models.Job) {
		job.Status = models.StepError
		job.Error = cause.Error()
		for i := range job.Steps {
			if job.Steps[i].ID == stepID {
				job.Steps[i].Status = models.StepError
				break
			}
		}
	})
}

// Complete marks the job done and records the session it produced.
func (s *Store) Complete(jobID, sessionID string) error {
	return s.update(jobID, func(job *models.Job) {
		job.Status = models.StepCompleted
		job.SessionID = sessionID
	})
}

// AddMessage appends to the rolling progress log, dropping the oldest
// entries past the bound.
func (s *Store) AddMessage(jobID, message string) {
	err := s.update(jobID, func(job *models.Job) {
		job.Messages = append(job.Messages, message)
		if len(job.Messages) > maxMessages {
			job.Messages = job.Messages[len(job.Messages)-maxMessages:]
		}
	})
	if err != nil {
		logger.L.Warn("Dropping progress message for expired job", "jobId", jobID, "message", message)
	}
}
