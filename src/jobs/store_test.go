package jobs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/models"
)

func init() {
	logger.InitLogger("error")
}

func pipelineSteps() []models.JobStep {
	return []models.JobStep{
		{ID: "upload", Label: "Reading input"},
		{ID: "normalize", Label: "Normalizing transactions"},
		{ID: "compute", Label: "Computing gains"},
	}
}

func TestCreateStartsAllStepsPending(t *testing.T) {
	store := NewStore(time.Hour)
	job := store.Create(pipelineSteps())

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.StepPending, job.Status)
	require.Len(t, job.Steps, 3)
	for _, step := range job.Steps {
		assert.Equal(t, models.StepPending, step.Status)
	}
}

func TestGetUnknownJob(t *testing.T) {
	store := NewStore(time.Hour)
	_, err := store.Get("nope")
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestStepTransitions(t *testing.T) {
	store := NewStore(time.Hour)
	job := store.Create(pipelineSteps())

	require.NoError(t, store.StartStep(job.ID, "upload"))
	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepRunning, got.Status)
	assert.Equal(t, models.StepRunning, got.Steps[0].Status)
	assert.Equal(t, models.StepPending, got.Steps[1].Status)

	require.NoError(t, store.CompleteStep(job.ID, "upload"))
	require.NoError(t, store.StartStep(job.ID, "normalize"))
	got, err = store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, got.Steps[0].Status)
	assert.Equal(t, models.StepRunning, got.Steps[1].Status)
}

func TestFailStepMarksJobErrored(t *testing.T) {
	store := NewStore(time.Hour)
	job := store.Create(pipelineSteps())

	require.NoError(t, store.StartStep(job.ID, "normalize"))
	require.NoError(t, store.FailStep(job.ID, "normalize", errors.New("bad csv")))

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepError, got.Status)
	assert.Equal(t, "bad csv", got.Error)
	assert.Equal(t, models.StepError, got.Steps[1].Status)
	assert.Equal(t, models.StepPending, got.Steps[2].Status, "later steps never ran")
}

func TestCompleteRecordsSessionID(t *testing.T) {
	store := NewStore(time.Hour)
	job := store.Create(pipelineSteps())

	require.NoError(t, store.Complete(job.ID, "session-123"))
	got, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, got.Status)
	assert.Equal(t, "session-123", got.SessionID)
	assert.Empty(t, got.Error)
}

func TestMessagesAreBounded(t *testing.T) {
	store := NewStore(time.Hour)
	job := store.Create(pipelineSteps())

	for i := 0; i < maxMessages+20; i++ {
		store.AddMessage(job.ID, fmt.Sprintf("message %d", i))
	}

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, maxMessages)
	assert.Equal(t, "message 20", got.Messages[0], "oldest entries dropped")
	assert.Equal(t, fmt.Sprintf("message %d", maxMessages+19), got.Messages[len(got.Messages)-1])
}

func TestExpiredJobBecomesNotFound(t *testing.T) {
	store := NewStore(10 * time.Millisecond)
	job := store.Create(pipelineSteps())

	time.Sleep(30 * time.Millisecond)
	_, err := store.Get(job.ID)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}

func TestGetReturnsSnapshot(t *testing.T) {
	store := NewStore(time.Hour)
	job := store.Create(pipelineSteps())
	store.AddMessage(job.ID, "first")

	got, err := store.Get(job.ID)
	require.NoError(t, err)
	got.Steps[0].Status = "tampered"
	got.Messages[0] = "tampered"

	fresh, err := store.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPending, fresh.Steps[0].Status)
	assert.Equal(t, "first", fresh.Messages[0])
}
