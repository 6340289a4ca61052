package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/vms/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("vms"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (n *NATSPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSPublisher) Close() error {
	return n.conn.Drain()
}

// NopPublisher drops every event. Used when NATS_URL is not set.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (NopPublisher) Close() error                                       { return nil }

// Event subjects
const (
	AccountRegistered = "vms.account.registered"
	AccountDeleted    = "vms.account.deleted"

	PassIssued     = "vms.pass.issued"
	PassCheckedOut = "vms.pass.checked_out"
	PassDeleted    = "vms.pass.deleted"
)

// Event payloads
type AccountRegisteredEvent struct {
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	RegisteredBy string    `json:"registered_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type AccountDeletedEvent struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	DeletedBy string    `json:"deleted_by"`
	DeletedAt time.Time `json:"deleted_at"`
}

type PassIssuedEvent struct {
	PassIdentifier    string    `json:"pass_identifier"`
	Kind              string    `json:"kind"`
	VisitorNationalID string    `json:"visitor_national_id"`
	IssuedBy          string    `json:"issued_by"`
	CheckInTime       time.Time `json:"check_in_time"`
}

type PassCheckedOutEvent struct {
	PassIdentifier    string    `json:"pass_identifier"`
	VisitorNationalID string    `json:"visitor_national_id"`
	CheckInTime       time.Time `json:"check_in_time"`
	CheckOutTime      time.Time `json:"check_out_time"`
}

type PassDeletedEvent struct {
	PassIdentifier string    `json:"pass_identifier"`
	DeletedBy      string    `json:"deleted_by"`
	DeletedAt      time.Time `json:"deleted_at"`
}
