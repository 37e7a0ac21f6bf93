package model

import "time"

type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusPending  TicketStatus = "pending"
	TicketStatusResolved TicketStatus = "resolved"
	TicketStatusArchived TicketStatus = "archived"
)

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAdmin    SenderType = "admin"
	SenderBot      SenderType = "bot"
)

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
)

// Attachment — одиночное вложение сообщения (image или video).
type Attachment struct {
	Type AttachmentType `json:"type"`
	URL  string         `json:"url"`
}

// CustomerInfo — снимок окружения клиента на момент открытия сессии.
type CustomerInfo struct {
	Browser     string  `json:"browser,omitempty"`
	OS          string  `json:"os,omitempty"`
	Device      string  `json:"device,omitempty"`
	IP          string  `json:"ip,omitempty"`
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	Country     string  `json:"country,omitempty"`
	CountryCode string  `json:"country_code,omitempty"`
	ISP         string  `json:"isp,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Long        float64 `json:"long,omitempty"`
}

// CustomerProfile — анкета клиента (KYC). Также используется как partial-patch:
// пустые поля патча не трогают значения базы (см. MergeProfile).
type CustomerProfile struct {
	FullName      string `json:"full_name,omitempty"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	TrustedDevice string `json:"trusted_device,omitempty"`
	DOB           string `json:"dob,omitempty"`
	IDCard        string `json:"id_card,omitempty"`
	IDIssueDate   string `json:"id_issue_date,omitempty"`
	Address       string `json:"address,omitempty"`
}

// MergeProfile накладывает непустые поля patch поверх base и возвращает
// результат. base может быть nil.
func MergeProfile(base *CustomerProfile, patch CustomerProfile) *CustomerProfile {
	out := CustomerProfile{}
	if base != nil {
		out = *base
	}
	if patch.FullName != "" {
		out.FullName = patch.FullName
	}
	if patch.Email != "" {
		out.Email = patch.Email
	}
	if patch.Phone != "" {
		out.Phone = patch.Phone
	}
	if patch.TrustedDevice != "" {
		out.TrustedDevice = patch.TrustedDevice
	}
	if patch.DOB != "" {
		out.DOB = patch.DOB
	}
	if patch.IDCard != "" {
		out.IDCard = patch.IDCard
	}
	if patch.IDIssueDate != "" {
		out.IDIssueDate = patch.IDIssueDate
	}
	if patch.Address != "" {
		out.Address = patch.Address
	}
	return &out
}

type PostComment struct {
	ID         string    `json:"id"`
	AuthorName string    `json:"author_name"`
	AuthorRole string    `json:"author_role"`
	Content    string    `json:"content"`
	Image      string    `json:"image,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TicketPost — объявление внутри тикета, независимое от чата. Переносится
// через cloud-merge без изменений.
type TicketPost struct {
	ID         string        `json:"id"`
	AuthorName string        `json:"author_name"`
	AuthorRole string        `json:"author_role"`
	Subject    string        `json:"subject"`
	Content    string        `json:"content"`
	Image      string        `json:"image,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Comments   []PostComment `json:"comments"`
}

// Ticket — одна сессия поддержки. ID неизменен после создания; TopicID
// (тред relay) назначается не более одного раза.
type Ticket struct {
	ID             string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CustomerName   string           `gorm:"type:varchar(255)" json:"customer_name"`
	Subject        string           `gorm:"type:varchar(255)" json:"subject"`
	Posts          []TicketPost     `gorm:"serializer:json;type:jsonb" json:"posts"`
	Priority       string           `gorm:"type:varchar(32);index" json:"priority,omitempty"`
	Status         TicketStatus     `gorm:"type:varchar(32);index;not null" json:"status"`
	LastMessage    string           `gorm:"type:text" json:"last_message,omitempty"`
	UnreadCount    int              `gorm:"-" json:"unread_count"`
	TopicID        int64            `gorm:"index" json:"topic_id,omitempty"`
	CustomerInfo   *CustomerInfo    `gorm:"serializer:json;type:jsonb" json:"customer_info,omitempty"`
	Profile        *CustomerProfile `gorm:"serializer:json;type:jsonb" json:"profile,omitempty"`
	PendingProfile *CustomerProfile `gorm:"serializer:json;type:jsonb" json:"pending_profile,omitempty"`
	AdminNotes     string           `gorm:"type:text" json:"admin_notes,omitempty"`

	// Ephemeral UI state: never persisted, only broadcast.
	TypingPreview string `gorm:"-" json:"typing_preview,omitempty"`
	AdminTyping   bool   `gorm:"-" json:"admin_typing,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message — одна строка чата. Для сообщений из relay ID — это id сообщения в
// relay (единственный ключ дедупликации); для локальных — uuid.
type Message struct {
	ID         string      `gorm:"primaryKey;type:varchar(64)" json:"id"`
	TicketID   string      `gorm:"index;not null;type:varchar(64)" json:"ticket_id"`
	Text       string      `gorm:"type:text" json:"text"`
	Sender     SenderType  `gorm:"type:varchar(16);not null" json:"sender"`
	Timestamp  time.Time   `gorm:"index" json:"timestamp"`
	Attachment *Attachment `gorm:"serializer:json;type:jsonb" json:"attachment,omitempty"`
}
