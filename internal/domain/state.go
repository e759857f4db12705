package domain

import "time"

// RetryRecord tracks failed attempts for one inbound message.
type RetryRecord struct {
	MessageID     string
	Count         int
	LastAttemptAt time.Time
}

// ConversationState points at the model backend's last interaction for a sender.
type ConversationState struct {
	SenderKey     string
	InteractionID string
	UpdatedAt     time.Time
}

// ToolContextBlock is one labeled section of situational context.
type ToolContextBlock struct {
	Label  string
	Text   string
	Failed bool
}

// DeliverySegment is one outbound page. Payload already carries the "i/n " prefix
// when Total > 1.
type DeliverySegment struct {
	Index   int
	Total   int
	Payload string
}

// FormToken holds the hidden reply-form values scraped from the device reply page.
type FormToken struct {
	GUID            string
	DeviceMessageID string
	ReplyAddress    string
}
