package communicator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/remitmatch/cashapp-agent/audit"
	"github.com/remitmatch/cashapp-agent/cashapperr"
	"github.com/remitmatch/cashapp-agent/erp"
)

// Event is what a caller hands to Dispatch.
type Event struct {
	Kind          audit.CommunicationKind
	Recipient     string
	TemplateName  string
	Data          map[string]interface{}
	Priority      string
	ScheduledAt   *time.Time
	TransactionId *string
}

type DispatchResult struct {
	DeliveryId string               `json:"delivery_id"`
	Status     audit.DeliveryStatus `json:"status"`
}

// Communicator renders a named template and hands it to a Transport,
// applying per-recipient rate limiting and the shared retry policy. It does
// not implement SMTP/chat protocols itself.
type Communicator struct {
	registry  *TemplateRegistry
	transport Transport
	limiters  *recipientLimiters
	store     *audit.Store
	retry     erp.RetryConfig
	logger    *logrus.Logger
}

func New(registry *TemplateRegistry, transport Transport, store *audit.Store, logger *logrus.Logger, ratePerRecipientPerMinute int) *Communicator {
	return &Communicator{
		registry:  registry,
		transport: transport,
		limiters:  newRecipientLimiters(4096, ratePerRecipientPerMinute),
		store:     store,
		retry:     erp.DefaultRetryConfig(),
		logger:    logger,
	}
}

// Dispatch renders the named template with event.Data and hands it to the
// transport, retrying transient failures and recording the outcome in the
// Audit Store regardless of success or failure.
func (c *Communicator) Dispatch(ctx context.Context, event Event) (DispatchResult, error) {
	if !c.registry.Has(event.TemplateName) {
		return DispatchResult{}, cashapperr.New(cashapperr.KindTemplateNotFound, fmt.Sprintf("template %q not registered", event.TemplateName))
	}
	if !c.limiters.Allow(event.Recipient) {
		return DispatchResult{}, cashapperr.New(cashapperr.KindBusy, fmt.Sprintf("rate limit exceeded for recipient %q", event.Recipient))
	}

	subject, body, contentType, err := c.registry.Render(event.TemplateName, event.Data)
	if err != nil {
		return DispatchResult{}, err
	}

	deliveryId := uuid.NewString()
	record := &audit.CommunicationEvent{
		TransactionId: event.TransactionId,
		Kind:          event.Kind,
		TemplateName:  event.TemplateName,
		Recipient:     event.Recipient,
		Payload:       audit.JSONMap(event.Data),
	}

	var providerId string
	sendErr := erp.Do(ctx, c.retry, func(ctx context.Context) error {
		id, err := c.transport.Send(ctx, Message{
			Kind:        string(event.Kind),
			Recipient:   event.Recipient,
			Subject:     subject,
			Body:        body,
			ContentType: contentType,
		})
		if err != nil {
			return cashapperr.Wrap(cashapperr.KindERPTransient, "transport send failed", err)
		}
		providerId = id
		return nil
	})

	now := time.Now().UTC()
	if sendErr != nil {
		msg := sendErr.Error()
		record.DeliveryStatus = audit.DeliveryFailed
		record.Error = &msg
		if c.store != nil {
			if err := c.store.RecordCommunication(ctx, record); err != nil && c.logger != nil {
				c.logger.WithError(err).Error("communicator: failed to record failed delivery")
			}
		}
		return DispatchResult{DeliveryId: deliveryId, Status: audit.DeliveryFailed}, sendErr
	}

	record.DeliveryStatus = audit.DeliverySent
	record.SentAt = &now
	if c.store != nil {
		if err := c.store.RecordCommunication(ctx, record); err != nil && c.logger != nil {
			c.logger.WithError(err).Error("communicator: failed to record sent delivery")
		}
	}
	_ = providerId
	return DispatchResult{DeliveryId: deliveryId, Status: audit.DeliverySent}, nil
}
