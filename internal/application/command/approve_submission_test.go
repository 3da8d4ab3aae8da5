package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pillarworks/progression-engine/internal/domain/review"
	"github.com/pillarworks/progression-engine/internal/domain/shared"
)

func TestApproveSubmission_GrantsDefaultPoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seedSubmission(t, shared.PillarCLT)

	result, err := env.approve.Handle(ctx, ApproveSubmissionCommand{
		SubmissionID: id,
		ReviewerID:   "mentor-1",
	})
	require.NoError(t, err)

	assert.False(t, result.AlreadyApproved)
	assert.False(t, result.NoSlotAvailable)
	assert.Equal(t, episodeIDs[0].String(), result.EpisodeID)
	assert.Equal(t, 1, result.EpisodeOrdinal)
	assert.Equal(t, 100, result.PointsGranted)
	assert.Equal(t, 100, result.NewTotal)

	score, err := env.scoringRepo.GetScore(ctx, studentID, seasonID)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(100), score.Subtotal(shared.PillarCLT))

	stored, err := env.reviewRepo.GetByID(ctx, shared.SubmissionID(id))
	require.NoError(t, err)
	assert.Equal(t, review.StatusApproved, stored.Status)
	assert.Equal(t, "mentor-1", stored.ReviewerID)

	assert.Len(t, env.publisher.byType(shared.EventSubmissionApproved), 1)
	assert.Len(t, env.publisher.byType(shared.EventTaskCompleted), 1)
	assert.Len(t, env.publisher.byType(shared.EventScoreApplied), 1)
}

func TestApproveSubmission_MentorPointsOverrideDefault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seedSubmission(t, shared.PillarCFC)

	points := 250
	result, err := env.approve.Handle(ctx, ApproveSubmissionCommand{
		SubmissionID: id,
		ReviewerID:   "mentor-1",
		MentorPoints: &points,
	})
	require.NoError(t, err)

	assert.Equal(t, 250, result.PointsGranted)
	assert.Equal(t, 250, result.NewTotal)
}

func TestApproveSubmission_RepeatApprovalIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seedSubmission(t, shared.PillarCLT)

	first, err := env.approve.Handle(ctx, ApproveSubmissionCommand{SubmissionID: id, ReviewerID: "mentor-1"})
	require.NoError(t, err)
	require.Equal(t, 100, first.NewTotal)

	second, err := env.approve.Handle(ctx, ApproveSubmissionCommand{SubmissionID: id, ReviewerID: "mentor-2"})
	require.NoError(t, err)

	assert.True(t, second.AlreadyApproved)
	assert.Zero(t, second.PointsGranted)

	// The score and the first reviewer's decision are untouched.
	score, err := env.scoringRepo.GetScore(ctx, studentID, seasonID)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(100), score.Total)

	stored, err := env.reviewRepo.GetByID(ctx, shared.SubmissionID(id))
	require.NoError(t, err)
	assert.Equal(t, "mentor-1", stored.ReviewerID)
}

func TestApproveSubmission_ExhaustedPillarIsAbsorbed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// CLT has a single slot in the season.
	first := env.seedSubmission(t, shared.PillarCLT)
	_, err := env.approve.Handle(ctx, ApproveSubmissionCommand{SubmissionID: first, ReviewerID: "mentor-1"})
	require.NoError(t, err)

	second := env.seedSubmission(t, shared.PillarCLT)
	result, err := env.approve.Handle(ctx, ApproveSubmissionCommand{SubmissionID: second, ReviewerID: "mentor-1"})
	require.NoError(t, err)

	assert.True(t, result.NoSlotAvailable)
	assert.Zero(t, result.PointsGranted)

	// The approval itself still stands.
	stored, err := env.reviewRepo.GetByID(ctx, shared.SubmissionID(second))
	require.NoError(t, err)
	assert.Equal(t, review.StatusApproved, stored.Status)

	// The score only reflects the first approval.
	score, err := env.scoringRepo.GetScore(ctx, studentID, seasonID)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(100), score.Total)
}

func TestApproveSubmission_OrderedSlotConsumption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// CFC slots live in episodes 2, 3 and 4; approvals must consume them in
	// that order regardless of submission order.
	wantEpisodes := []string{episodeIDs[1].String(), episodeIDs[2].String(), episodeIDs[3].String()}
	for i, want := range wantEpisodes {
		id := env.seedSubmission(t, shared.PillarCFC)
		result, err := env.approve.Handle(ctx, ApproveSubmissionCommand{SubmissionID: id, ReviewerID: "mentor-1"})
		require.NoError(t, err)
		assert.Equal(t, want, result.EpisodeID, "approval %d", i+1)
		assert.Equal(t, i+1, result.SlotIndex)
	}

	extra := env.seedSubmission(t, shared.PillarCFC)
	result, err := env.approve.Handle(ctx, ApproveSubmissionCommand{SubmissionID: extra, ReviewerID: "mentor-1"})
	require.NoError(t, err)
	assert.True(t, result.NoSlotAvailable)
}

func TestApproveSubmission_FinalizedSeasonFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.scoringRepo.MarkFinalized(ctx, studentID, seasonID))

	id := env.seedSubmission(t, shared.PillarCLT)
	_, err := env.approve.Handle(ctx, ApproveSubmissionCommand{SubmissionID: id, ReviewerID: "mentor-1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrSeasonFinalized)
}

func TestApproveSubmission_RejectedSubmissionCannotBeApproved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seedSubmission(t, shared.PillarCLT)

	_, err := env.reject.Handle(ctx, RejectSubmissionCommand{
		SubmissionID: id,
		ReviewerID:   "mentor-1",
		Comment:      "missing evidence",
	})
	require.NoError(t, err)

	_, err = env.approve.Handle(ctx, ApproveSubmissionCommand{SubmissionID: id, ReviewerID: "mentor-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrTerminalStatus)
}

func TestApproveSubmission_UnknownSubmission(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.approve.Handle(context.Background(), ApproveSubmissionCommand{
		SubmissionID: "bbbbbbbb-0000-4000-8000-999999999999",
		ReviewerID:   "mentor-1",
	})

	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}

func TestRejectSubmission_RequiresComment(t *testing.T) {
	env := newTestEnv(t)
	id := env.seedSubmission(t, shared.PillarIIPC)

	_, err := env.reject.Handle(context.Background(), RejectSubmissionCommand{
		SubmissionID: id,
		ReviewerID:   "mentor-1",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrCommentRequired)
}

func TestRequestResubmission_ReturnsToStudent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.seedSubmission(t, shared.PillarIIPC)

	_, err := env.resubmit.Handle(ctx, RequestResubmissionCommand{
		SubmissionID: id,
		ReviewerID:   "mentor-1",
		Feedback:     "please add the retro notes",
	})
	require.NoError(t, err)

	stored, err := env.reviewRepo.GetByID(ctx, shared.SubmissionID(id))
	require.NoError(t, err)
	assert.Equal(t, review.StatusResubmit, stored.Status)
}

func TestRecordStreakDay_FillsEpisodesInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		result, err := env.streak.Handle(ctx, RecordStreakDayCommand{StudentID: studentID.String()})
		require.NoError(t, err)
		assert.False(t, result.Exhausted)
		assert.Equal(t, episodeIDs[i].String(), result.EpisodeID)
		assert.Equal(t, 100, result.PointsGranted)
	}

	result, err := env.streak.Handle(ctx, RecordStreakDayCommand{StudentID: studentID.String()})
	require.NoError(t, err)
	assert.True(t, result.Exhausted)

	score, err := env.scoringRepo.GetScore(ctx, studentID, seasonID)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(400), score.Subtotal(shared.PillarSCD))
}

func TestFinalizeSeason_FreezesAndSkipsRepeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.seedSubmission(t, shared.PillarCLT)
	_, err := env.approve.Handle(ctx, ApproveSubmissionCommand{SubmissionID: id, ReviewerID: "mentor-1"})
	require.NoError(t, err)

	first, err := env.finalize.Handle(ctx, FinalizeSeasonCommand{SeasonID: seasonID.String()})
	require.NoError(t, err)
	assert.Equal(t, 1, first.FrozenCount)
	assert.Empty(t, first.Errors)
	assert.Len(t, env.publisher.byType(shared.EventSeasonFinalized), 1)

	second, err := env.finalize.Handle(ctx, FinalizeSeasonCommand{SeasonID: seasonID.String()})
	require.NoError(t, err)
	assert.Zero(t, second.FrozenCount)
	assert.Equal(t, 1, second.SkippedCount)

	// The barrier now rejects adjustments too.
	_, err = env.adjustScore.Handle(ctx, AdjustScoreCommand{
		StudentID: studentID.String(),
		SeasonID:  seasonID.String(),
		Pillar:    "CLT",
		Delta:     -50,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrSeasonFinalized)
}

func TestAdjustScore_NegativeCorrection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id := env.seedSubmission(t, shared.PillarCLT)
	_, err := env.approve.Handle(ctx, ApproveSubmissionCommand{SubmissionID: id, ReviewerID: "mentor-1"})
	require.NoError(t, err)

	result, err := env.adjustScore.Handle(ctx, AdjustScoreCommand{
		StudentID: studentID.String(),
		SeasonID:  seasonID.String(),
		Pillar:    "CLT",
		Delta:     -40,
		Reason:    "duplicate evidence",
	})
	require.NoError(t, err)
	assert.Equal(t, 60, result.NewTotal)

	_, err = env.adjustScore.Handle(ctx, AdjustScoreCommand{
		StudentID: studentID.String(),
		SeasonID:  seasonID.String(),
		Pillar:    "CLT",
		Delta:     0,
	})
	require.Error(t, err)
}
