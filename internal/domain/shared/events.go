package shared

import (
	"time"
)

// EventType names a domain event. The prefix is the bounded context that
// emits it.
type EventType string

const (
	// Review events.
	EventSubmissionApproved   EventType = "review.submission_approved"
	EventSubmissionRejected   EventType = "review.submission_rejected"
	EventResubmissionRequired EventType = "review.resubmission_required"

	// Progression events.
	EventTaskCompleted    EventType = "progression.task_completed"
	EventEpisodeCompleted EventType = "progression.episode_completed"

	// Scoring events.
	EventScoreApplied    EventType = "scoring.score_applied"
	EventScoreAdjusted   EventType = "scoring.score_adjusted"
	EventSeasonFinalized EventType = "scoring.season_finalized"

	// Leaderboard events.
	EventRankChanged EventType = "leaderboard.rank_changed"
)

// Event is what flows through the bus. Payload flattens the event for
// structured logging; handlers that need typed fields assert the concrete
// event instead.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	AggregateID() string
	Payload() map[string]interface{}
}

// BaseEvent carries the fields every event shares. Concrete events embed it.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.AggregateId }

func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID returns a copy tagged with a request correlation ID.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Review events
// ═══════════════════════════════════════════════════════════════════════════

// SubmissionApprovedEvent is emitted when a mentor approves a submission.
type SubmissionApprovedEvent struct {
	BaseEvent
	SubmissionID string `json:"submission_id"`
	StudentID    string `json:"student_id"`
	Pillar       string `json:"pillar"`
	ReviewerID   string `json:"reviewer_id,omitempty"`
}

func (e SubmissionApprovedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"submission_id": e.SubmissionID,
		"student_id":    e.StudentID,
		"pillar":        e.Pillar,
		"reviewer_id":   e.ReviewerID,
	}
}

func NewSubmissionApprovedEvent(submissionID, studentID, pillar, reviewerID string) SubmissionApprovedEvent {
	return SubmissionApprovedEvent{
		BaseEvent:    NewBaseEvent(EventSubmissionApproved, submissionID),
		SubmissionID: submissionID,
		StudentID:    studentID,
		Pillar:       pillar,
		ReviewerID:   reviewerID,
	}
}

// SubmissionRejectedEvent is emitted on a terminal rejection.
type SubmissionRejectedEvent struct {
	BaseEvent
	SubmissionID string `json:"submission_id"`
	StudentID    string `json:"student_id"`
	Pillar       string `json:"pillar"`
	Comment      string `json:"comment"`
}

func (e SubmissionRejectedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"submission_id": e.SubmissionID,
		"student_id":    e.StudentID,
		"pillar":        e.Pillar,
		"comment":       e.Comment,
	}
}

func NewSubmissionRejectedEvent(submissionID, studentID, pillar, comment string) SubmissionRejectedEvent {
	return SubmissionRejectedEvent{
		BaseEvent:    NewBaseEvent(EventSubmissionRejected, submissionID),
		SubmissionID: submissionID,
		StudentID:    studentID,
		Pillar:       pillar,
		Comment:      comment,
	}
}

// ResubmissionRequiredEvent is emitted when a submission is sent back for
// rework. Not terminal; the student may edit and resubmit.
type ResubmissionRequiredEvent struct {
	BaseEvent
	SubmissionID string `json:"submission_id"`
	StudentID    string `json:"student_id"`
	Pillar       string `json:"pillar"`
	Feedback     string `json:"feedback"`
}

func (e ResubmissionRequiredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"submission_id": e.SubmissionID,
		"student_id":    e.StudentID,
		"pillar":        e.Pillar,
		"feedback":      e.Feedback,
	}
}

func NewResubmissionRequiredEvent(submissionID, studentID, pillar, feedback string) ResubmissionRequiredEvent {
	return ResubmissionRequiredEvent{
		BaseEvent:    NewBaseEvent(EventResubmissionRequired, submissionID),
		SubmissionID: submissionID,
		StudentID:    studentID,
		Pillar:       pillar,
		Feedback:     feedback,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression events
// ═══════════════════════════════════════════════════════════════════════════

// TaskCompletedEvent is emitted when a task slot is recorded as complete.
type TaskCompletedEvent struct {
	BaseEvent
	StudentID      string `json:"student_id"`
	SeasonID       string `json:"season_id"`
	EpisodeID      string `json:"episode_id"`
	EpisodeOrdinal int    `json:"episode_ordinal"`
	Pillar         string `json:"pillar"`
	SlotIndex      int    `json:"slot_index"`
	SubmissionID   string `json:"submission_id"`
}

func (e TaskCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":      e.StudentID,
		"season_id":       e.SeasonID,
		"episode_id":      e.EpisodeID,
		"episode_ordinal": e.EpisodeOrdinal,
		"pillar":          e.Pillar,
		"slot_index":      e.SlotIndex,
		"submission_id":   e.SubmissionID,
	}
}

func NewTaskCompletedEvent(studentID, seasonID, episodeID string, ordinal int, pillar string, slot int, submissionID string) TaskCompletedEvent {
	return TaskCompletedEvent{
		BaseEvent:      NewBaseEvent(EventTaskCompleted, studentID),
		StudentID:      studentID,
		SeasonID:       seasonID,
		EpisodeID:      episodeID,
		EpisodeOrdinal: ordinal,
		Pillar:         pillar,
		SlotIndex:      slot,
		SubmissionID:   submissionID,
	}
}

// EpisodeCompletedEvent is emitted when an episode reaches 100% completion.
type EpisodeCompletedEvent struct {
	BaseEvent
	StudentID      string `json:"student_id"`
	SeasonID       string `json:"season_id"`
	EpisodeID      string `json:"episode_id"`
	EpisodeOrdinal int    `json:"episode_ordinal"`
}

func (e EpisodeCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":      e.StudentID,
		"season_id":       e.SeasonID,
		"episode_id":      e.EpisodeID,
		"episode_ordinal": e.EpisodeOrdinal,
	}
}

func NewEpisodeCompletedEvent(studentID, seasonID, episodeID string, ordinal int) EpisodeCompletedEvent {
	return EpisodeCompletedEvent{
		BaseEvent:      NewBaseEvent(EventEpisodeCompleted, studentID),
		StudentID:      studentID,
		SeasonID:       seasonID,
		EpisodeID:      episodeID,
		EpisodeOrdinal: ordinal,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Scoring events
// ═══════════════════════════════════════════════════════════════════════════

// ScoreAppliedEvent is emitted when points are applied to a season score.
type ScoreAppliedEvent struct {
	BaseEvent
	StudentID    string `json:"student_id"`
	SeasonID     string `json:"season_id"`
	Pillar       string `json:"pillar"`
	Points       int    `json:"points"`
	NewTotal     int    `json:"new_total"`
	CapReached   bool   `json:"cap_reached"`
	SubmissionID string `json:"submission_id,omitempty"`
}

func (e ScoreAppliedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":    e.StudentID,
		"season_id":     e.SeasonID,
		"pillar":        e.Pillar,
		"points":        e.Points,
		"new_total":     e.NewTotal,
		"cap_reached":   e.CapReached,
		"submission_id": e.SubmissionID,
	}
}

func NewScoreAppliedEvent(studentID, seasonID, pillar string, points, newTotal int, capReached bool, submissionID string) ScoreAppliedEvent {
	return ScoreAppliedEvent{
		BaseEvent:    NewBaseEvent(EventScoreApplied, studentID),
		StudentID:    studentID,
		SeasonID:     seasonID,
		Pillar:       pillar,
		Points:       points,
		NewTotal:     newTotal,
		CapReached:   capReached,
		SubmissionID: submissionID,
	}
}

// ScoreAdjustedEvent is emitted for administrative corrections. The reason
// travels with the event so the audit trail reaches any subscriber, not
// just the history table.
type ScoreAdjustedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	SeasonID  string `json:"season_id"`
	Pillar    string `json:"pillar"`
	Delta     int    `json:"delta"`
	NewTotal  int    `json:"new_total"`
	Reason    string `json:"reason,omitempty"`
}

func (e ScoreAdjustedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"season_id":  e.SeasonID,
		"pillar":     e.Pillar,
		"delta":      e.Delta,
		"new_total":  e.NewTotal,
		"reason":     e.Reason,
	}
}

func NewScoreAdjustedEvent(studentID, seasonID, pillar string, delta, newTotal int, reason string) ScoreAdjustedEvent {
	return ScoreAdjustedEvent{
		BaseEvent: NewBaseEvent(EventScoreAdjusted, studentID),
		StudentID: studentID,
		SeasonID:  seasonID,
		Pillar:    pillar,
		Delta:     delta,
		NewTotal:  newTotal,
		Reason:    reason,
	}
}

// SeasonFinalizedEvent is emitted when a student's season is frozen.
type SeasonFinalizedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	SeasonID   string `json:"season_id"`
	FinalScore int    `json:"final_score"`
}

func (e SeasonFinalizedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"season_id":   e.SeasonID,
		"final_score": e.FinalScore,
	}
}

func NewSeasonFinalizedEvent(studentID, seasonID string, finalScore int) SeasonFinalizedEvent {
	return SeasonFinalizedEvent{
		BaseEvent:  NewBaseEvent(EventSeasonFinalized, studentID),
		StudentID:  studentID,
		SeasonID:   seasonID,
		FinalScore: finalScore,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Leaderboard events
// ═══════════════════════════════════════════════════════════════════════════

// RankChangedEvent is emitted when a student's rank moves between snapshots.
type RankChangedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	SeasonID   string `json:"season_id"`
	OldRank    int    `json:"old_rank"`
	NewRank    int    `json:"new_rank"`
	RankChange int    `json:"rank_change"` // positive = moved up
}

func (e RankChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"season_id":   e.SeasonID,
		"old_rank":    e.OldRank,
		"new_rank":    e.NewRank,
		"rank_change": e.RankChange,
	}
}

func NewRankChangedEvent(studentID, seasonID string, oldRank, newRank int) RankChangedEvent {
	return RankChangedEvent{
		BaseEvent:  NewBaseEvent(EventRankChanged, studentID),
		StudentID:  studentID,
		SeasonID:   seasonID,
		OldRank:    oldRank,
		NewRank:    newRank,
		RankChange: oldRank - newRank,
	}
}

func (e RankChangedEvent) MovedUp() bool   { return e.RankChange > 0 }
func (e RankChangedEvent) MovedDown() bool { return e.RankChange < 0 }

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler consumes one event. Errors are the handler's problem to
// report; the bus logs and moves on.
type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
