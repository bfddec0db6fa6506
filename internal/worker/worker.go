// Package worker provides the NATS edge of the speech scheduler: it
// translates request events into orchestrator and registry calls and
// replies with result events. It stands in for the chat-platform command
// layer, which is outside the core.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/speech-scheduler/internal/analytics"
	"github.com/book-expert/speech-scheduler/internal/core"
	"github.com/book-expert/speech-scheduler/internal/orchestrator"
	"github.com/book-expert/speech-scheduler/internal/voices"
)

const defaultRequestTimeout = 30 * time.Second

// Static errors.
var (
	// ErrUnknownAction indicates a voice command with an unsupported action.
	ErrUnknownAction = errors.New("unknown voice command action")
	// ErrMissingUser indicates an event without a user identity.
	ErrMissingUser = errors.New("event is missing a user identity")
)

// Subjects names the NATS subjects the worker listens on.
type Subjects struct {
	Synthesize   string
	VoiceCommand string
	QueueCommand string
	Status       string
}

// NatsWorker listens for scheduler events on NATS subjects and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	orchestrator   *orchestrator.Orchestrator
	registry       *voices.Registry
	view           *analytics.View
	timeout        time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker. A non-positive
// timeout falls back to the default per-request timeout.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	orc *orchestrator.Orchestrator,
	registry *voices.Registry,
	view *analytics.View,
	timeout time.Duration,
	log *logger.Logger,
) (*NatsWorker, error) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		orchestrator:   orc,
		registry:       registry,
		view:           view,
		timeout:        timeout,
		log:            log,
	}, nil
}

// Run subscribes to all subjects and blocks until the context ends.
// Synthesis requests are handled on their own goroutines so that a caller
// awaiting the admission queue never blocks other callers' submissions.
func (w *NatsWorker) Run(ctx context.Context) error {
	subscriptions := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{w.subjects.Synthesize, func(msg *nats.Msg) { go w.handleSynthesize(msg) }},
		{w.subjects.VoiceCommand, w.handleVoiceCommand},
		{w.subjects.QueueCommand, w.handleQueueCommand},
		{w.subjects.Status, w.handleStatus},
	}

	var active []*nats.Subscription

	for _, subscription := range subscriptions {
		sub, err := w.natsConnection.Subscribe(subscription.subject, subscription.handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to subject %s: %w", subscription.subject, err)
		}

		active = append(active, sub)
	}

	<-ctx.Done()

	for _, sub := range active {
		drainErr := sub.Drain()
		if drainErr != nil {
			return fmt.Errorf("failed to drain subscription: %w", drainErr)
		}
	}

	return nil
}

func (w *NatsWorker) handleSynthesize(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var event SynthesisRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal synthesis event: %v", err)

		return
	}

	reply := SynthesisCompletedEvent{
		Header:      event.Header,
		Fingerprint: "",
		AudioKey:    "",
		DurationMs:  0,
		CacheHit:    false,
		ErrorKind:   "",
		Error:       "",
	}

	artifact, cacheHit, handleErr := w.processSynthesis(ctx, &event)
	if handleErr != nil {
		reply.ErrorKind = errorKind(handleErr)
		reply.Error = handleErr.Error()
		w.log.Error("Synthesis failed for workflow %s: %v", event.Header.WorkflowID, handleErr)
	} else {
		reply.Fingerprint = artifact.Fingerprint.String()
		reply.AudioKey = artifact.Fingerprint.String()
		reply.DurationMs = artifact.Duration.Milliseconds()
		reply.CacheHit = cacheHit
	}

	w.respond(msg, &reply)
}

// processSynthesis translates the event into a core request and hands it
// to the orchestrator.
func (w *NatsWorker) processSynthesis(ctx context.Context, event *SynthesisRequestedEvent) (*core.AudioArtifact, bool, error) {
	if event.Header.UserID == "" {
		return nil, false, ErrMissingUser
	}

	tier := core.TierNormal
	if event.Admin {
		tier = core.TierAdmin
	}

	request := core.SynthesisRequest{
		UserID:      event.Header.UserID,
		Text:        event.Text,
		VoiceID:     event.VoiceID,
		Engine:      core.EngineID(event.Engine),
		Tier:        tier,
		Params:      event.Params,
		SubmittedAt: time.Now().UTC(),
	}

	artifact, cacheHit, err := w.orchestrator.Handle(ctx, request)
	if err != nil {
		return nil, false, fmt.Errorf("failed to handle synthesis request: %w", err)
	}

	return artifact, cacheHit, nil
}

func (w *NatsWorker) handleVoiceCommand(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var event VoiceCommandEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal voice command event: %v", err)

		return
	}

	reply := VoiceCommandReplyEvent{
		Header:     event.Header,
		Descriptor: nil,
		History:    nil,
		ErrorKind:  "",
		Error:      "",
	}

	commandErr := w.processVoiceCommand(ctx, &event, &reply)
	if commandErr != nil {
		reply.ErrorKind = errorKind(commandErr)
		reply.Error = commandErr.Error()
		w.log.Error("Voice command %s failed for user %s: %v", event.Action, event.Header.UserID, commandErr)
	}

	w.respond(msg, &reply)
}

func (w *NatsWorker) processVoiceCommand(ctx context.Context, event *VoiceCommandEvent, reply *VoiceCommandReplyEvent) error {
	if event.Header.UserID == "" {
		return ErrMissingUser
	}

	userID := event.Header.UserID

	switch event.Action {
	case ActionUpload:
		descriptor, err := w.registry.Upload(ctx, userID, event.VoiceName, event.Sample)
		if err != nil {
			return fmt.Errorf("failed to upload voice: %w", err)
		}

		reply.Descriptor = &descriptor
	case ActionReplace:
		descriptor, err := w.registry.Replace(ctx, userID, event.VoiceName, event.Sample)
		if err != nil {
			return fmt.Errorf("failed to replace voice: %w", err)
		}

		reply.Descriptor = &descriptor
	case ActionRestore:
		descriptor, err := w.registry.Restore(ctx, userID, event.VersionID)
		if err != nil {
			return fmt.Errorf("failed to restore voice: %w", err)
		}

		reply.Descriptor = &descriptor
	case ActionHistory:
		reply.History = w.registry.History(ctx, userID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, event.Action)
	}

	return nil
}

func (w *NatsWorker) handleQueueCommand(msg *nats.Msg) {
	var event QueueCommandEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal queue command event: %v", err)

		return
	}

	reply := QueueCommandReplyEvent{
		Header:    event.Header,
		Removed:   0,
		ErrorKind: "",
		Error:     "",
	}

	commandErr := w.processQueueCommand(&event, &reply)
	if commandErr != nil {
		reply.ErrorKind = errorKind(commandErr)
		reply.Error = commandErr.Error()
		w.log.Error("Queue command %s failed: %v", event.Action, commandErr)
	}

	w.respond(msg, &reply)
}

func (w *NatsWorker) processQueueCommand(event *QueueCommandEvent, reply *QueueCommandReplyEvent) error {
	if event.Header.UserID == "" {
		return ErrMissingUser
	}

	queue := w.orchestrator.Scheduler()

	switch event.Action {
	case ActionCancelUser:
		target := event.TargetUserID
		if target == "" {
			target = event.Header.UserID
		}

		reply.Removed = queue.CancelUser(target)
	case ActionClear:
		reply.Removed = queue.Clear()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, event.Action)
	}

	return nil
}

func (w *NatsWorker) handleStatus(msg *nats.Msg) {
	snapshot := w.view.Snapshot()

	w.respond(msg, &snapshot)
}

func (w *NatsWorker) respond(msg *nats.Msg, reply any) {
	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return
	}

	respondErr := msg.Respond(data)
	if respondErr != nil {
		w.log.Error("Failed to publish reply: %v", respondErr)
	}
}
