package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/dialtone-ai/dialtone/pkg/llm"
	"github.com/dialtone-ai/dialtone/pkg/mongo"
)

const tasksCollection = "call_tasks"

// TaskRecord is the persisted state of a call task
type TaskRecord struct {
	TaskID       string            `bson:"task_id"`
	PhoneNumber  string            `bson:"phone_number"`
	Objective    string            `bson:"objective"`
	Status       string            `bson:"status"`
	CallRef      string            `bson:"call_ref,omitempty"`
	DurationSec  int               `bson:"duration_sec,omitempty"`
	Transcript   []TranscriptEntry `bson:"transcript,omitempty"`
	Conversation []llm.ChatMessage `bson:"conversation,omitempty"`
	CreatedAt    time.Time         `bson:"created_at"`
	UpdatedAt    time.Time         `bson:"updated_at"`
	EndedAt      *time.Time        `bson:"ended_at,omitempty"`
}

// TranscriptEntry is a single utterance in the call transcript
type TranscriptEntry struct {
	Role      string    `bson:"role" json:"role"`
	Content   string    `bson:"content" json:"content"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// TaskStore persists call task state in MongoDB. All writes are
// best-effort: a database failure is logged, never propagated, so a
// persistence hiccup cannot take down a live call. The store tolerates
// a nil client for dry-run and test setups.
type TaskStore struct {
	db     *mongo.Client
	logger *zap.Logger
}

func NewTaskStore(db *mongo.Client, logger *zap.Logger) *TaskStore {
	return &TaskStore{db: db, logger: logger}
}

// EnsureTask upserts the initial task record for a call
func (s *TaskStore) EnsureTask(ctx context.Context, taskID, phoneNumber, objective string) {
	if s.db == nil {
		return
	}

	now := time.Now().UTC()
	_, err := s.db.NewQuery(tasksCollection).Upsert(ctx, bson.M{"task_id": taskID}, bson.M{
		"task_id":      taskID,
		"phone_number": phoneNumber,
		"objective":    objective,
		"created_at":   now,
		"updated_at":   now,
	})
	if err != nil {
		s.logger.Error("failed to ensure task record",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

// UpdateStatus records the task's call status
func (s *TaskStore) UpdateStatus(ctx context.Context, taskID, status string) {
	s.update(ctx, taskID, bson.M{"status": status})
}

// UpdateCallRef records the provider call reference for a task
func (s *TaskStore) UpdateCallRef(ctx context.Context, taskID, callRef string) {
	s.update(ctx, taskID, bson.M{"call_ref": callRef})
}

// UpdateDuration records the call duration in seconds
func (s *TaskStore) UpdateDuration(ctx context.Context, taskID string, seconds int) {
	s.update(ctx, taskID, bson.M{"duration_sec": seconds})
}

// UpdateEndedAt records when the call ended
func (s *TaskStore) UpdateEndedAt(ctx context.Context, taskID string, endedAt time.Time) {
	s.update(ctx, taskID, bson.M{"ended_at": endedAt.UTC()})
}

// SaveTranscript replaces the stored transcript for a task
func (s *TaskStore) SaveTranscript(ctx context.Context, taskID string, transcript []TranscriptEntry) {
	s.update(ctx, taskID, bson.M{"transcript": transcript})
}

// SaveConversation replaces the stored LLM conversation history
func (s *TaskStore) SaveConversation(ctx context.Context, taskID string, history []llm.ChatMessage) {
	s.update(ctx, taskID, bson.M{"conversation": history})
}

// GetTask fetches a task record, returning nil when not found
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (map[string]interface{}, error) {
	if s.db == nil {
		return nil, nil
	}
	return s.db.NewQuery(tasksCollection).Eq("task_id", taskID).FindOne(ctx)
}

func (s *TaskStore) update(ctx context.Context, taskID string, fields bson.M) {
	if s.db == nil {
		return
	}

	fields["updated_at"] = time.Now().UTC()
	_, err := s.db.NewQuery(tasksCollection).Eq("task_id", taskID).UpdateOne(ctx, fields)
	if err != nil {
		s.logger.Error("failed to update task record",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}
