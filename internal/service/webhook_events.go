package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event is the closed set of provider notifications the processor handles.
// The concrete types below are the only implementations; the dispatch switch
// in the processor is exhaustive over them.
type Event interface {
	EventID() string
	EventType() string
}

type OrderApproved struct {
	ID      string
	OrderID string
	PayerID string
}

type CaptureCompleted struct {
	ID               string
	OrderID          string
	CaptureID        string
	AmountMinorUnits int64
	Currency         string
}

type CaptureDenied struct {
	ID        string
	OrderID   string
	CaptureID string
	Reason    string
}

type CaptureRefunded struct {
	ID               string
	CaptureID        string
	RefundID         string
	AmountMinorUnits int64
	Currency         string
}

type PayoutBatchSuccess struct {
	ID             string
	BatchReference string
}

type PayoutItemFailed struct {
	ID             string
	BatchReference string
	SenderItemID   string
	Reason         string
}

func (e OrderApproved) EventID() string      { return e.ID }
func (e OrderApproved) EventType() string    { return EventTypeOrderApproved }
func (e CaptureCompleted) EventID() string   { return e.ID }
func (e CaptureCompleted) EventType() string { return EventTypeCaptureCompleted }
func (e CaptureDenied) EventID() string      { return e.ID }
func (e CaptureDenied) EventType() string    { return EventTypeCaptureDenied }
func (e CaptureRefunded) EventID() string    { return e.ID }
func (e CaptureRefunded) EventType() string  { return EventTypeCaptureRefunded }
func (e PayoutBatchSuccess) EventID() string { return e.ID }
func (e PayoutBatchSuccess) EventType() string {
	return EventTypePayoutBatchSuccess
}
func (e PayoutItemFailed) EventID() string   { return e.ID }
func (e PayoutItemFailed) EventType() string { return EventTypePayoutItemFailed }

const (
	EventTypeOrderApproved      = "CHECKOUT.ORDER.APPROVED"
	EventTypeCaptureCompleted   = "PAYMENT.CAPTURE.COMPLETED"
	EventTypeCaptureDenied      = "PAYMENT.CAPTURE.DENIED"
	EventTypeCaptureRefunded    = "PAYMENT.CAPTURE.REFUNDED"
	EventTypePayoutBatchSuccess = "PAYMENT.PAYOUTSBATCH.SUCCESS"
	EventTypePayoutItemFailed   = "PAYMENT.PAYOUTS-ITEM.FAILED"
)

var ErrUnsupportedEvent = errors.New("unsupported webhook event type")

type webhookEnvelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type moneyPayload struct {
	Value        string `json:"value"`
	CurrencyCode string `json:"currency_code"`
}

// ParseEvent decodes a raw webhook body into one of the closed event types.
// Unrecognized event types return ErrUnsupportedEvent; callers acknowledge
// those rather than erroring, so the provider stops redelivering them.
func ParseEvent(body []byte) (Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode webhook envelope: %w", err)
	}
	if env.ID == "" {
		return nil, errors.New("webhook event missing id")
	}

	switch env.EventType {
	case EventTypeOrderApproved:
		var res struct {
			ID    string `json:"id"`
			Payer struct {
				PayerID string `json:"payer_id"`
			} `json:"payer"`
		}
		if err := json.Unmarshal(env.Resource, &res); err != nil {
			return nil, fmt.Errorf("decode order resource: %w", err)
		}
		return OrderApproved{ID: env.ID, OrderID: res.ID, PayerID: res.Payer.PayerID}, nil

	case EventTypeCaptureCompleted:
		var res struct {
			ID                string       `json:"id"`
			Amount            moneyPayload `json:"amount"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		}
		if err := json.Unmarshal(env.Resource, &res); err != nil {
			return nil, fmt.Errorf("decode capture resource: %w", err)
		}
		amount, err := ParseAmountMinorUnits(res.Amount.Value)
		if err != nil {
			return nil, fmt.Errorf("capture amount: %w", err)
		}
		if amount <= 0 {
			return nil, fmt.Errorf("capture amount must be positive, got %q", res.Amount.Value)
		}
		return CaptureCompleted{
			ID:               env.ID,
			OrderID:          res.SupplementaryData.RelatedIDs.OrderID,
			CaptureID:        res.ID,
			AmountMinorUnits: amount,
			Currency:         res.Amount.CurrencyCode,
		}, nil

	case EventTypeCaptureDenied:
		var res struct {
			ID                string `json:"id"`
			StatusDetails     struct {
				Reason string `json:"reason"`
			} `json:"status_details"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		}
		if err := json.Unmarshal(env.Resource, &res); err != nil {
			return nil, fmt.Errorf("decode capture resource: %w", err)
		}
		return CaptureDenied{
			ID:        env.ID,
			OrderID:   res.SupplementaryData.RelatedIDs.OrderID,
			CaptureID: res.ID,
			Reason:    res.StatusDetails.Reason,
		}, nil

	case EventTypeCaptureRefunded:
		var res struct {
			ID     string       `json:"id"`
			Amount moneyPayload `json:"amount"`
			Links  []struct {
				Rel  string `json:"rel"`
				Href string `json:"href"`
			} `json:"links"`
		}
		if err := json.Unmarshal(env.Resource, &res); err != nil {
			return nil, fmt.Errorf("decode refund resource: %w", err)
		}
		amount, err := ParseAmountMinorUnits(res.Amount.Value)
		if err != nil {
			return nil, fmt.Errorf("refund amount: %w", err)
		}
		if amount <= 0 {
			return nil, fmt.Errorf("refund amount must be positive, got %q", res.Amount.Value)
		}
		captureID := ""
		for _, link := range res.Links {
			if link.Rel == "up" {
				if idx := strings.LastIndex(link.Href, "/"); idx >= 0 {
					captureID = link.Href[idx+1:]
				}
			}
		}
		return CaptureRefunded{
			ID:               env.ID,
			CaptureID:        captureID,
			RefundID:         res.ID,
			AmountMinorUnits: amount,
			Currency:         res.Amount.CurrencyCode,
		}, nil

	case EventTypePayoutBatchSuccess:
		var res struct {
			BatchHeader struct {
				PayoutBatchID string `json:"payout_batch_id"`
			} `json:"batch_header"`
		}
		if err := json.Unmarshal(env.Resource, &res); err != nil {
			return nil, fmt.Errorf("decode payout batch resource: %w", err)
		}
		return PayoutBatchSuccess{ID: env.ID, BatchReference: res.BatchHeader.PayoutBatchID}, nil

	case EventTypePayoutItemFailed:
		var res struct {
			PayoutItem struct {
				SenderItemID string `json:"sender_item_id"`
			} `json:"payout_item"`
			PayoutBatchID string `json:"payout_batch_id"`
			Errors        struct {
				Message string `json:"message"`
			} `json:"errors"`
		}
		if err := json.Unmarshal(env.Resource, &res); err != nil {
			return nil, fmt.Errorf("decode payout item resource: %w", err)
		}
		return PayoutItemFailed{
			ID:             env.ID,
			BatchReference: res.PayoutBatchID,
			SenderItemID:   res.PayoutItem.SenderItemID,
			Reason:         res.Errors.Message,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, env.EventType)
	}
}

// ParseAmountMinorUnits converts a provider decimal amount string such as
// "12.50" into minor units. At most two fraction digits are accepted.
func ParseAmountMinorUnits(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty amount")
	}
	negative := false
	if strings.HasPrefix(value, "-") {
		negative = true
		value = value[1:]
	}
	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("amount %q has sub-cent precision", value)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	var total int64
	for _, part := range []string{whole, frac} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("invalid amount %q", value)
			}
			if total > (1<<62)/10 {
				return 0, fmt.Errorf("amount %q overflows", value)
			}
			total = total*10 + int64(c-'0')
		}
	}
	if negative {
		total = -total
	}
	return total, nil
}
