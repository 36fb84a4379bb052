package taskqueue

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noraiz-anwar/code-response-assessment/internal/common/mq"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
	"github.com/noraiz-anwar/code-response-assessment/pkg/utils/logger"
)

const (
	DefaultTopic         = "grader.submissions"
	DefaultConsumerGroup = "grader-workers"
)

// Config names the grading topic and how it is consumed.
type Config struct {
	Topic         string `yaml:"topic" json:"topic"`
	ConsumerGroup string `yaml:"consumer_group" json:"consumer_group"`
	// Concurrency bounds how many grading tasks one worker process runs at
	// once; each active task holds a sandbox container.
	Concurrency     int    `yaml:"concurrency" json:"concurrency"`
	DeadLetterTopic string `yaml:"dead_letter_topic" json:"dead_letter_topic"`
}

func (c Config) withDefaults() Config {
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = DefaultConsumerGroup
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	return c
}

// Handler processes one decoded grading task.
type Handler func(ctx context.Context, payload model.TaskPayload) error

// Queue publishes grading tasks and feeds them to workers. The queued state
// record is written before the message becomes visible, so a consumer never
// observes a task without a record.
type Queue struct {
	cfg    Config
	broker mq.MessageQueue
	states *States
}

func New(cfg Config, broker mq.MessageQueue, states *States) *Queue {
	return &Queue{cfg: cfg.withDefaults(), broker: broker, states: states}
}

// States exposes the task ledger backing this queue.
func (q *Queue) States() *States {
	return q.states
}

// Enqueue records the task as queued and publishes it.
func (q *Queue) Enqueue(ctx context.Context, payload model.TaskPayload) error {
	if payload.TaskID == "" {
		return appErr.ValidationError("task_id", "required")
	}
	if err := q.states.Mark(ctx, payload.TaskID, StateQueued); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return appErr.Wrapf(err, appErr.TaskEnqueueFailed, "encode grading task failed")
	}
	msg := mq.NewMessage(body)
	msg.ID = payload.TaskID
	msg.SetHeader("task_id", payload.TaskID)
	if payload.TraceID != "" {
		msg.SetHeader("trace_id", payload.TraceID)
	}
	if err := q.broker.Publish(ctx, q.cfg.Topic, msg); err != nil {
		return appErr.Wrapf(err, appErr.TaskEnqueueFailed, "publish grading task failed")
	}
	return nil
}

// Consume registers the handler on the grading topic. Malformed payloads are
// logged and committed rather than returned as errors, since redelivery can
// never fix them.
func (q *Queue) Consume(ctx context.Context, handler Handler) error {
	opts := &mq.SubscribeOptions{
		ConsumerGroup:   q.cfg.ConsumerGroup,
		Concurrency:     q.cfg.Concurrency,
		DeadLetterTopic: q.cfg.DeadLetterTopic,
	}
	return q.broker.SubscribeWithOptions(ctx, q.cfg.Topic, func(ctx context.Context, message *mq.Message) error {
		var payload model.TaskPayload
		if err := json.Unmarshal(message.Body, &payload); err != nil {
			logger.Warn(ctx, "dropping malformed grading task",
				zap.String("message_id", message.ID),
				zap.Error(err))
			return nil
		}
		return handler(ctx, payload)
	}, opts)
}
