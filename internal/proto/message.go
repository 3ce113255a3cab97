package proto

import "time"

// ReceiverAdmin is the sentinel receiver for the support side of the conversation.
const ReceiverAdmin = "admin"

// Sender types classify who authored a message.
const (
	SenderTypeAdmin = "admin"
	SenderTypeUser  = "user"
)

// Sender identifies the author of a message.
type Sender struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Role     string `json:"role,omitempty"`
}

// Attachment describes one file carried by a message.
type Attachment struct {
	Filename string `json:"filename"`
	FileType string `json:"fileType,omitempty"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// Message is the wire shape of one chat message. A message is immutable once
// created except for Read/ReadAt, which only ever transition false → true.
type Message struct {
	ID          string       `json:"id"`
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Sender      Sender       `json:"sender"`
	SenderType  string       `json:"senderType"`
	Receiver    string       `json:"receiver"`
	Read        bool         `json:"read"`
	ReadAt      *time.Time   `json:"readAt,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// FromAdmin reports whether the message was authored by the support side.
func (m Message) FromAdmin() bool {
	return m.SenderType == SenderTypeAdmin
}
