package store

import (
	"encoding/json"
	"time"
)

type Organization struct {
	ID        string
	Name      string
	Subdomain string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID                    string
	OrgID                 string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Project struct {
	ID           string
	OrgID        string
	Name         string
	Description  string
	InboundEmail string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SchemaField is a flat key/value field on a project's extraction schema.
type SchemaField struct {
	ID          string
	ProjectID   string
	FieldName   string
	FieldType   string
	Description string
	Required    bool
	OrderIndex  int
}

// Collection is a named repeating table in a project's schema.
type Collection struct {
	ID          string
	ProjectID   string
	Name        string
	Description string
	OrderIndex  int
	Properties  []CollectionProperty
}

type CollectionProperty struct {
	ID           string
	CollectionID string
	PropertyName string
	PropertyType string
	Description  string
	OrderIndex   int
}

// WorkflowStep is a named stage in a project's workflow. StepType is one of
// info_page, list, kanban.
type WorkflowStep struct {
	ID           string
	ProjectID    string
	StepName     string
	StepType     string
	CollectionID *string
	OrderIndex   int
}

// StepValue is one column of a workflow step, optionally bound to a tool.
// InputValues maps tool parameter names to literal strings, "@" references,
// or arrays of step-value UUIDs.
type StepValue struct {
	ID           string
	StepID       string
	ValueName    string
	ValueType    string
	Description  string
	ToolID       *string
	InputValues  json.RawMessage
	IsIdentifier bool
	FieldCount   int
	OrderIndex   int
}

// Tool is an AI-prompt or code unit of work bound to step values.
type Tool struct {
	ID            string
	OrgID         string
	Name          string
	Kind          string // prompt | code
	Prompt        string
	CodeFunction  string
	OperationType string // extract | create
	CreatedAt     time.Time
}

type ExtractionSession struct {
	ID             string
	ProjectID      string
	Name           string
	Status         string // open | in_review | completed | rejected
	Source         string // upload | email
	EmailThreadID  string
	SubmitterEmail string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type SessionDocument struct {
	ID          string
	SessionID   string
	FileName    string
	ContentType string
	StorageKey  string
	Kind        string // user | knowledge
	TextContent string
	PageCount   int
	CreatedAt   time.Time
}

// FieldValidation is the atomic unit of extracted data: one value of one
// column for one logical row, plus its review status and AI provenance.
type FieldValidation struct {
	ID               string
	SessionID        string
	StepID           string
	ValueID          string
	FieldID          string
	IdentifierID     string
	RecordIndex      int
	ExtractedValue   string
	ValidationStatus string // pending | valid | manual | verified | invalid
	AIReasoning      string
	ConfidenceScore  int
	DocumentSource   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type KanbanCard struct {
	ID          string
	SessionID   string
	Title       string
	Description string
	Lane        string // todo | doing | done
	AIGenerated bool
	OrderIndex  int
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ChecklistItem struct {
	ID         string
	CardID     string
	Text       string
	Done       bool
	OrderIndex int
}

type CardComment struct {
	ID        string
	CardID    string
	Author    string
	Body      string
	CreatedAt time.Time
}

// InboundEmail records a processed webhook delivery; (ProjectID, MessageID)
// is the idempotency key for double-delivered webhooks.
type InboundEmail struct {
	ID         string
	ProjectID  string
	SessionID  string
	MessageID  string
	ThreadID   string
	FromAddr   string
	Subject    string
	StorageKey string
	Accepted   bool
	ReceivedAt time.Time
}
