package service

import (
	"encoding/json"
	"fmt"

	"github.com/ryuqq/fileflow/internal/domain/model"
)

// outboxForOperationEvents drains the operation's pending events and converts
// them into outbox rows bound for the kind's queue destination. The caller
// commits the rows in the same transaction as the state change.
func outboxForOperationEvents(op *model.Operation) ([]*model.OutboxMessage, error) {
	events := op.PollEvents()
	if len(events) == 0 {
		return nil, nil
	}

	destination := DestinationForKind(op.Kind)
	messages := make([]*model.OutboxMessage, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("marshal event %s: %w", ev.Type, err)
		}
		msg, err := model.NewOutboxMessage(op, string(ev.Type), destination, payload, ev.OccurredAt)
		if err != nil {
			return nil, err
		}
		// A requeue row must not be delivered before the backoff window ends,
		// otherwise the consumer picks the operation straight back up.
		if ev.Type == model.EventOperationRequeued && op.NextRetryAt != nil {
			msg.AvailableAt = op.NextRetryAt.UTC()
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
