package view

import (
	"encoding/json"
	"fmt"

	"github.com/punchamoorthee/chipledger/internal/domain"
	"github.com/punchamoorthee/chipledger/internal/notify"
)

type wireEvent struct {
	Resource  notify.Resource `json:"resource"`
	Kind      notify.Kind     `json:"kind"`
	SessionID string          `json:"session_id"`
	RowID     string          `json:"row_id"`
	Row       json.RawMessage `json:"row,omitempty"`
}

// DecodeEvent turns one websocket feed message into a typed change event
// ready for SessionView.Apply. The row image is decoded into the concrete
// domain type for its resource.
func DecodeEvent(data []byte) (notify.Event, error) {
	var we wireEvent
	if err := json.Unmarshal(data, &we); err != nil {
		return notify.Event{}, fmt.Errorf("decode change event: %w", err)
	}

	ev := notify.Event{
		Resource:  we.Resource,
		Kind:      we.Kind,
		SessionID: we.SessionID,
		RowID:     we.RowID,
	}
	if len(we.Row) == 0 || we.Kind == notify.KindDelete {
		return ev, nil
	}

	switch we.Resource {
	case notify.ResourceSessions:
		var row domain.Session
		if err := json.Unmarshal(we.Row, &row); err != nil {
			return notify.Event{}, fmt.Errorf("decode session row: %w", err)
		}
		ev.Row = row
	case notify.ResourceParticipants:
		var row domain.Participant
		if err := json.Unmarshal(we.Row, &row); err != nil {
			return notify.Event{}, fmt.Errorf("decode participant row: %w", err)
		}
		ev.Row = row
	case notify.ResourceBalances:
		var row domain.Balance
		if err := json.Unmarshal(we.Row, &row); err != nil {
			return notify.Event{}, fmt.Errorf("decode balance row: %w", err)
		}
		ev.Row = row
	case notify.ResourceTransactions:
		var row domain.Transaction
		if err := json.Unmarshal(we.Row, &row); err != nil {
			return notify.Event{}, fmt.Errorf("decode transaction row: %w", err)
		}
		ev.Row = row
	default:
		return notify.Event{}, fmt.Errorf("unknown resource %q", we.Resource)
	}
	return ev, nil
}
