package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/breatheroute/weathercore/internal/fault"
	"github.com/breatheroute/weathercore/internal/provider/resilience"
)

// Job types accepted on the refresh subscription.
const (
	JobTypeRefresh     = "refresh"
	JobTypeHealthCheck = "health_check"
)

// ErrUnhealthy is returned by a health check when a provider circuit is open.
var ErrUnhealthy = errors.New("provider unhealthy")

// RefreshMessage is a refresh trigger, {"jobType":"refresh","invalidate":true}
// or {"jobType":"health_check"}.
type RefreshMessage struct {
	JobType string `json:"jobType"`

	// Invalidate drops cached data before refreshing.
	Invalidate bool `json:"invalidate,omitempty"`
}

// MessageHandler executes refresh trigger messages independently of the
// transport that delivers them.
type MessageHandler struct {
	job      *RefreshJob
	registry *resilience.Registry
	logger   zerolog.Logger
}

// NewMessageHandler creates a handler that runs job and reports the health of
// the providers in registry.
func NewMessageHandler(job *RefreshJob, registry *resilience.Registry, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{
		job:      job,
		registry: registry,
		logger:   logger,
	}
}

// Handle processes one message. A nil error means the message should be acked.
// Unknown job types are acked so they are not redelivered.
func (h *MessageHandler) Handle(ctx context.Context, data []byte) error {
	var msg RefreshMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parsing message: %w", err)
	}

	switch msg.JobType {
	case JobTypeRefresh:
		return h.handleRefresh(ctx, msg)
	case JobTypeHealthCheck:
		return h.handleHealthCheck()
	default:
		h.logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return nil
	}
}

func (h *MessageHandler) handleRefresh(ctx context.Context, msg RefreshMessage) error {
	h.logger.Info().
		Bool("invalidate", msg.Invalidate).
		Msg("starting triggered refresh")

	var result *RefreshResult
	if msg.Invalidate {
		result = h.job.ForceRun(ctx)
	} else {
		result = h.job.Run(ctx)
	}

	if !result.OK() {
		// Permanent failures will not improve on redelivery.
		if !fault.Retryable(result.Err) {
			h.logger.Warn().Err(result.Err).Msg("triggered refresh failed permanently")
			return nil
		}
		return fmt.Errorf("refresh failed after %d attempts: %w", result.Attempts, result.Err)
	}
	return nil
}

func (h *MessageHandler) handleHealthCheck() error {
	if h.registry == nil {
		return nil
	}

	status := h.registry.Overall()
	h.logger.Debug().Str("status", string(status)).Msg("health check")

	if status == resilience.StatusUnhealthy {
		return fmt.Errorf("%w: %v", ErrUnhealthy, h.registry.Unhealthy())
	}
	return nil
}

// PubSubHandler receives refresh triggers from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	handler          *MessageHandler
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Handler          *MessageHandler
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		handler:          cfg.Handler,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	if err := h.handler.Handle(ctx, msg.Data); err != nil {
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
		return
	}

	logger.Info().
		Dur("duration", time.Since(startTime)).
		Msg("job completed")

	msg.Ack()
}
