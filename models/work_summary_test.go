package models_test

import (
	"testing"

	"github.com/APTrust/relay/models"
	"github.com/stretchr/testify/assert"
)

func TestNewWorkSummary(t *testing.T) {
	s := models.NewWorkSummary()
	assert.False(t, s.Attempted)
	assert.Equal(t, 0, s.AttemptNumber)
	assert.NotNil(t, s.Errors)
	assert.Equal(t, 0, len(s.Errors))
	assert.True(t, s.StartedAt.IsZero())
	assert.True(t, s.FinishedAt.IsZero())
}

func TestSummaryStart(t *testing.T) {
	s := models.NewWorkSummary()
	assert.True(t, s.StartedAt.IsZero())
	s.Start()
	assert.True(t, s.Attempted)
	assert.Equal(t, 1, s.AttemptNumber)
	assert.False(t, s.StartedAt.IsZero())
	s.Start()
	assert.Equal(t, 2, s.AttemptNumber)
}

func TestSummaryStarted(t *testing.T) {
	s := models.NewWorkSummary()
	assert.False(t, s.Started())
	s.Start()
	assert.True(t, s.Started())
}

func TestSummaryFinish(t *testing.T) {
	s := models.NewWorkSummary()
	assert.True(t, s.FinishedAt.IsZero())
	assert.False(t, s.Finished())
	s.Finish()
	assert.False(t, s.FinishedAt.IsZero())
	assert.True(t, s.Finished())
}

func TestSummarySucceeded(t *testing.T) {
	s := models.NewWorkSummary()

	// Not finished.
	assert.False(t, s.Succeeded())

	// Finished with no errors
	s.Finish()
	assert.True(t, s.Succeeded())

	// Finished with errors
	s.AddError("Oopsie!")
	assert.False(t, s.Succeeded())
}

func TestSummaryAddError(t *testing.T) {
	s := models.NewWorkSummary()
	s.AddError("First error is number %d", 1)
	assert.Equal(t, 1, len(s.Errors))
	assert.Equal(t, "First error is number 1", s.Errors[0])

	s.AddError("%s error is number %d", "Second", 2)
	assert.Equal(t, 2, len(s.Errors))
	assert.Equal(t, "Second error is number 2", s.Errors[1])
}

func TestSummaryHasErrors(t *testing.T) {
	s := models.NewWorkSummary()
	assert.False(t, s.HasErrors())
	s.AddError("First error is number %d", 1)
	assert.True(t, s.HasErrors())
}

func TestSummaryClearErrors(t *testing.T) {
	s := models.NewWorkSummary()
	s.AddError("First error is number %d", 1)
	s.ErrorIsFatal = true
	assert.NotEmpty(t, s.Errors)
	s.ClearErrors()
	assert.Empty(t, s.Errors)
	assert.False(t, s.ErrorIsFatal)
}

func TestSummaryFirstError(t *testing.T) {
	s := models.NewWorkSummary()
	assert.Equal(t, "", s.FirstError())
	s.AddError("First error is number %d", 1)
	assert.Equal(t, "First error is number 1", s.FirstError())
	s.AddError("Second error is number %d", 2)
	assert.Equal(t, "First error is number 1", s.FirstError())
}

func TestSummaryAllErrorsAsString(t *testing.T) {
	s := models.NewWorkSummary()
	s.AddError("First error is number %d", 1)
	s.AddError("Second error is number %d", 2)
	assert.Equal(t, "First error is number 1\nSecond error is number 2", s.AllErrorsAsString())
}
