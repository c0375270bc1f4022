package collector

import "time"

const (
	DefaultEventType = "Unknown"
	DefaultItemName  = "N/A"
	DefaultBoardName = "N/A"
	DefaultUserName  = "System"
)

// Event is one normalized webhook notification. Rows are append-only.
type Event struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType string `gorm:"column:event_type;type:text" json:"event_type"`
	ItemName  string `gorm:"column:item_name;type:text" json:"item_name"`
	BoardName string `gorm:"column:board_name;type:text" json:"board_name"`
	UserName  string `gorm:"column:user_name;type:text" json:"user_name"`
	// CardID is the identifier taken from a ".../cards/<id>" deep link.
	CardID *string `gorm:"column:card_id;type:text" json:"card_id"`
	// FromList and ToList are only set for move notifications, and always together.
	FromList *string `gorm:"column:from_list;type:text" json:"from_list"`
	ToList   *string `gorm:"column:to_list;type:text" json:"to_list"`
	// RawPayload is the inbound request body, kept verbatim.
	RawPayload string    `gorm:"column:raw_payload;type:text" json:"raw_payload"`
	ReceivedAt time.Time `gorm:"column:received_at;index" json:"received_at"`

	// Shape is set by the parser and not persisted.
	Shape Shape `gorm:"-" json:"-"`
}

func (Event) TableName() string { return "events" }

func newDefaultEvent() *Event {
	return &Event{
		EventType: DefaultEventType,
		ItemName:  DefaultItemName,
		BoardName: DefaultBoardName,
		UserName:  DefaultUserName,
	}
}

// legacyEvent is the pre-v2 shape of the events table: no card id and no list transition.
type legacyEvent struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	EventType  string    `gorm:"column:event_type;type:text"`
	ItemName   string    `gorm:"column:item_name;type:text"`
	BoardName  string    `gorm:"column:board_name;type:text"`
	UserName   string    `gorm:"column:user_name;type:text"`
	RawPayload string    `gorm:"column:raw_payload;type:text"`
	ReceivedAt time.Time `gorm:"column:received_at;default:CURRENT_TIMESTAMP"`
}

func (legacyEvent) TableName() string { return "events" }

// SchemaMigration records one applied schema step.
type SchemaMigration struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:64"`
	AppliedAt time.Time `gorm:"index"`
}

func (SchemaMigration) TableName() string { return "schema_migrations" }

func strPtr(s string) *string { return &s }

func derefOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
