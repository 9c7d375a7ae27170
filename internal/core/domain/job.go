package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobType categorizes webhook jobs by storefront domain
type JobType string

const (
	JobTypeProduct  JobType = "product"
	JobTypeOrder    JobType = "order"
	JobTypeCustomer JobType = "customer"
)

// ParseJobType validates a job type string.
func ParseJobType(s string) (JobType, error) {
	switch t := JobType(strings.ToLower(s)); t {
	case JobTypeProduct, JobTypeOrder, JobTypeCustomer:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJobType, s)
}

// JobState is the lifecycle state of a webhook job
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobDelayed   JobState = "delayed"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Storefront event names
const (
	EventProductCreated  = "product.created"
	EventProductUpdated  = "product.updated"
	EventProductDeleted  = "product.deleted"
	EventOrderCreated    = "order.created"
	EventOrderUpdated    = "order.updated"
	EventCustomerCreated = "customer.created"
)

// WebhookEvent is the body accepted by the webhook endpoints
type WebhookEvent struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// WebhookJob is a unit of asynchronous work derived from a webhook event.
// Data keeps the original bytes for the broker; Payload is the typed view.
type WebhookJob struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	Payload     JobPayload      `json:"-"`
	ReceivedAt  time.Time       `json:"receivedAt"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	State       JobState        `json:"state"`
	LastError   string          `json:"lastError,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// Hydrate rebuilds the typed payload from Data, e.g. after loading from a broker.
func (j *WebhookJob) Hydrate() error {
	p, err := DecodePayload(j.Type, j.Data)
	if err != nil {
		return err
	}
	j.Payload = p
	return nil
}

// QueueStats is the observability contract of the job queue
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// ============================================================================
// Typed payloads
// ============================================================================

// JobPayload is the tagged union of per-domain webhook payloads.
type JobPayload interface {
	JobType() JobType
}

// ProductPayload identifies the product that triggered a catalog resync.
type ProductPayload struct {
	ID   string
	Name string
}

func (ProductPayload) JobType() JobType { return JobTypeProduct }

// OrderPayload carries what order notifications need.
type OrderPayload struct {
	ID             string
	OrderNumber    string
	CustomerEmail  string
	Status         string
	PreviousStatus string
}

func (OrderPayload) JobType() JobType { return JobTypeOrder }

// CustomerPayload carries what the welcome flow needs.
type CustomerPayload struct {
	ID       string
	Email    string
	FullName string
}

func (CustomerPayload) JobType() JobType { return JobTypeCustomer }

// DecodePayload validates raw webhook data and returns its typed form.
// Both camelCase and snake_case spellings are accepted; the storefront emits either.
func DecodePayload(t JobType, raw json.RawMessage) (JobPayload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: data must be an object", ErrInvalidPayload)
	}

	switch t {
	case JobTypeProduct:
		var w struct {
			ID        flexString `json:"id"`
			ProductID flexString `json:"productId"`
			Name      string     `json:"name"`
		}
		if err := json.Unmarshal(trimmed, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return ProductPayload{ID: first(w.ID, w.ProductID), Name: w.Name}, nil

	case JobTypeOrder:
		var w struct {
			ID                flexString `json:"id"`
			OrderID           flexString `json:"orderId"`
			OrderNumber       flexString `json:"orderNumber"`
			OrderNumberSnake  flexString `json:"order_number"`
			CustomerEmail     string     `json:"customerEmail"`
			CustomerEmailSnk  string     `json:"customer_email"`
			Status            string     `json:"status"`
			PreviousStatus    string     `json:"previousStatus"`
			PreviousStatusSnk string     `json:"previous_status"`
		}
		if err := json.Unmarshal(trimmed, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return OrderPayload{
			ID:             first(w.ID, w.OrderID),
			OrderNumber:    first(w.OrderNumber, w.OrderNumberSnake),
			CustomerEmail:  firstString(w.CustomerEmail, w.CustomerEmailSnk),
			Status:         w.Status,
			PreviousStatus: firstString(w.PreviousStatus, w.PreviousStatusSnk),
		}, nil

	case JobTypeCustomer:
		var w struct {
			ID         flexString `json:"id"`
			CustomerID flexString `json:"customerId"`
			Email      string     `json:"email"`
			FullName   string     `json:"full_name"`
			FullName2  string     `json:"fullName"`
		}
		if err := json.Unmarshal(trimmed, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return CustomerPayload{
			ID:       first(w.ID, w.CustomerID),
			Email:    w.Email,
			FullName: firstString(w.FullName, w.FullName2),
		}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, t)
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func first(a, b flexString) string {
	if a != "" {
		return string(a)
	}
	return string(b)
}

func firstString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
