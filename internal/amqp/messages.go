package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
)

// Reasons carried by MonthChangedMessage.
const (
	ReasonTransaction   = "transaction"
	ReasonAllocation    = "allocation"
	ReasonRecurringPost = "recurring_post"
	ReasonRebuild       = "rebuild"
)

// MonthChangedMessage announces that the ledger for one month of one user
// changed. Consumers re-derive whatever they need from the database.
type MonthChangedMessage struct {
	MessageID string    `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMonthChangedMessage creates a message with a fresh id.
func NewMonthChangedMessage(userID int64, ym core.YearMonth, reason string) *MonthChangedMessage {
	return &MonthChangedMessage{
		MessageID: uuid.NewString(),
		UserID:    userID,
		Year:      ym.Year,
		Month:     ym.Month,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func (m *MonthChangedMessage) YearMonth() core.YearMonth {
	return core.YearMonth{Year: m.Year, Month: m.Month}
}

// ToJSON converts the message to JSON bytes
func (m *MonthChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MonthChangedMessageFromJSON decodes and validates a message body.
func MonthChangedMessageFromJSON(data []byte) (*MonthChangedMessage, error) {
	var msg MonthChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.YearMonth().Validate(); err != nil {
		return nil, err
	}
	if msg.UserID <= 0 {
		return nil, core.Invalid("message has no user id")
	}
	return &msg, nil
}
