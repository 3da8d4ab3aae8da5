package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

func pendingSubmission() *Submission {
	now := time.Now().UTC()
	return &Submission{
		ID:        "bbbbbbbb-0000-4000-8000-000000000001",
		StudentID: "7c2f9e9b-1d2f-4c3a-8b4e-222222222222",
		Pillar:    shared.PillarCFC,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSubmission_ApproveFromPending(t *testing.T) {
	s := pendingSubmission()

	already, err := s.Approve("mentor-1", "well done", nil)
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, StatusApproved, s.Status)
	assert.Equal(t, "mentor-1", s.ReviewerID)
	require.NotNil(t, s.ReviewedAt)
}

func TestSubmission_ApproveTwiceIsIdempotent(t *testing.T) {
	s := pendingSubmission()

	_, err := s.Approve("mentor-1", "ok", nil)
	require.NoError(t, err)
	reviewedAt := *s.ReviewedAt

	already, err := s.Approve("mentor-2", "duplicate click", nil)
	require.NoError(t, err)
	assert.True(t, already)
	// Nothing about the first decision changed.
	assert.Equal(t, "mentor-1", s.ReviewerID)
	assert.Equal(t, reviewedAt, *s.ReviewedAt)
}

func TestSubmission_ApproveWithMentorPoints(t *testing.T) {
	s := pendingSubmission()
	points := shared.Points(200)

	_, err := s.Approve("mentor-1", "", &points)
	require.NoError(t, err)
	require.NotNil(t, s.MentorPoints)
	assert.Equal(t, shared.Points(200), *s.MentorPoints)

	s2 := pendingSubmission()
	bad := shared.Points(2000)
	_, err = s2.Approve("mentor-1", "", &bad)
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)
	assert.Equal(t, StatusPending, s2.Status)
}

func TestSubmission_RejectRequiresComment(t *testing.T) {
	s := pendingSubmission()

	err := s.Reject("mentor-1", "   ")
	assert.ErrorIs(t, err, shared.ErrEmptyValue)
	assert.Equal(t, StatusPending, s.Status)

	err = s.Reject("mentor-1", "missing test evidence")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, s.Status)
	assert.Equal(t, "missing test evidence", s.ReviewerComment)
}

func TestSubmission_RejectAfterApproveFails(t *testing.T) {
	s := pendingSubmission()
	_, err := s.Approve("mentor-1", "", nil)
	require.NoError(t, err)

	err = s.Reject("mentor-2", "changed my mind")
	assert.ErrorIs(t, err, shared.ErrStateTransition)
	assert.Equal(t, StatusApproved, s.Status)
}

func TestSubmission_RequestResubmission(t *testing.T) {
	s := pendingSubmission()

	err := s.RequestResubmission("mentor-1", "")
	assert.ErrorIs(t, err, shared.ErrEmptyValue)

	err = s.RequestResubmission("mentor-1", "please add the deployment link")
	require.NoError(t, err)
	assert.Equal(t, StatusResubmit, s.Status)

	// Resubmit is not terminal: the decision can still change after review.
	_, err = s.Approve("mentor-1", "", nil)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestSubmission_DraftIsNotReviewable(t *testing.T) {
	s := pendingSubmission()
	s.Status = StatusDraft

	_, err := s.Approve("mentor-1", "", nil)
	assert.ErrorIs(t, err, shared.ErrInvalidState)
	err = s.Reject("mentor-1", "nope")
	assert.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestSubmission_StartReview(t *testing.T) {
	s := pendingSubmission()

	require.NoError(t, s.StartReview("mentor-1"))
	assert.Equal(t, StatusUnderReview, s.Status)

	// Under-review submissions still accept decisions.
	_, err := s.Approve("mentor-1", "", nil)
	require.NoError(t, err)
}

func TestStatus_Properties(t *testing.T) {
	assert.True(t, StatusApproved.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.False(t, StatusResubmit.IsTerminal())
	assert.True(t, StatusPending.IsReviewable())
	assert.True(t, StatusUnderReview.IsReviewable())
	assert.False(t, StatusDraft.IsReviewable())
	assert.False(t, Status("bogus").IsValid())
}
