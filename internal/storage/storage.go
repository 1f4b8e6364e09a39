package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleCreator    Role = "creator"
	RoleEditor     Role = "editor"
	RolePublisher  Role = "publisher"
	RoleDEO        Role = "deo"
	RoleUser       Role = "user"
	RoleGeneral    Role = "general"
	RoleManager    Role = "manager"
)

type UserType string

const (
	UserTypeEmployee UserType = "employee"
	UserTypeGeneral  UserType = "general"
)

// User is a platform identity. EmployeeID and Mobile are unique-sparse:
// either may be absent, but a present value must be unique.
type User struct {
	ID                  string     `json:"id" bson:"_id"`
	Username            string     `json:"username" bson:"username"`
	Email               string     `json:"email" bson:"email"`
	EmployeeID          string     `json:"employee_id,omitempty" bson:"employee_id,omitempty"`
	Mobile              string     `json:"mobile,omitempty" bson:"mobile,omitempty"`
	UserType            UserType   `json:"user_type" bson:"user_type"`
	Password            string     `json:"password,omitempty" bson:"password"`
	PasswordExpiration  time.Time  `json:"password_expiration,omitempty" bson:"password_expiration"`
	Roles               []Role     `json:"roles" bson:"roles"`
	FailedLoginAttempts int        `json:"failed_login_attempts" bson:"failed_login_attempts"`
	OTPResendCount      int        `json:"otp_resend_count" bson:"otp_resend_count"`
	LockUntil           *time.Time `json:"lock_until,omitempty" bson:"lock_until,omitempty"`
	OTP                 string     `json:"-" bson:"otp,omitempty"`
	OTPExpiration       *time.Time `json:"-" bson:"otp_expiration,omitempty"`
	LastLogin           *time.Time `json:"last_login,omitempty" bson:"last_login,omitempty"`
	CreatedAt           time.Time  `json:"created_at" bson:"created_at"`
}

// HasRole reports whether the user carries the given system role.
func (u User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type FormStatus string

const (
	FormDraft     FormStatus = "draft"
	FormPublished FormStatus = "published"
	FormArchived  FormStatus = "archived"
)

// Webhook is a per-form delivery subscription.
type Webhook struct {
	URL    string   `json:"url" bson:"url"`
	Secret string   `json:"secret" bson:"secret"`
	Events []string `json:"events" bson:"events"`
	Active bool     `json:"active" bson:"active"`
}

// Form owns its versions, ACLs, webhook subscriptions and translations.
type Form struct {
	ID                 string        `json:"id" bson:"_id"`
	Title              string        `json:"title" bson:"title"`
	Slug               string        `json:"slug" bson:"slug"`
	CreatedBy          string        `json:"created_by" bson:"created_by"`
	Status             FormStatus    `json:"status" bson:"status"`
	IsPublic           bool          `json:"is_public" bson:"is_public"`
	ExpiresAt          *time.Time    `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	Editors            []string      `json:"editors" bson:"editors"`
	Viewers            []string      `json:"viewers" bson:"viewers"`
	Submitters         []string      `json:"submitters" bson:"submitters"`
	SupportedLanguages []string      `json:"supported_languages" bson:"supported_languages"`
	DefaultLanguage    string        `json:"default_language" bson:"default_language"`
	Webhooks           []Webhook     `json:"webhooks" bson:"webhooks"`
	NotificationEmails []string      `json:"notification_emails" bson:"notification_emails"`
	Versions           []FormVersion `json:"versions" bson:"versions"`
	ActiveVersion      string        `json:"active_version" bson:"active_version"`
	CreatedAt          time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" bson:"updated_at"`
}

// Version returns the named version, or nil.
func (f *Form) Version(version string) *FormVersion {
	for i := range f.Versions {
		if f.Versions[i].Version == version {
			return &f.Versions[i]
		}
	}
	return nil
}

// Active returns the currently active version, or nil.
func (f *Form) Active() *FormVersion {
	return f.Version(f.ActiveVersion)
}

// LocalizedText holds per-language overrides for one schema node,
// keyed by the node's UUID in FormVersion.Translations.
type LocalizedText struct {
	Title       string `json:"title,omitempty" bson:"title,omitempty"`
	Label       string `json:"label,omitempty" bson:"label,omitempty"`
	HelpText    string `json:"help_text,omitempty" bson:"help_text,omitempty"`
	OptionLabel string `json:"option_label,omitempty" bson:"option_label,omitempty"`
}

// FormVersion is an immutable snapshot of the schema once submissions
// have validated against it. Translations fall back to base text.
type FormVersion struct {
	Version      string                              `json:"version" bson:"version"`
	CreatedBy    string                              `json:"created_by" bson:"created_by"`
	CreatedAt    time.Time                           `json:"created_at" bson:"created_at"`
	Sections     []Section                           `json:"sections" bson:"sections"`
	Translations map[string]map[string]LocalizedText `json:"translations,omitempty" bson:"translations,omitempty"`
}

type SectionUI string

const (
	UIFlex    SectionUI = "flex"
	UIGridTwo SectionUI = "grid-cols-2"
	UITabbed  SectionUI = "tabbed"
	UICustom  SectionUI = "custom"
)

// Section groups questions. Nested repeatable sections are not supported.
type Section struct {
	ID                  string     `json:"id" bson:"id"`
	Title               string     `json:"title" bson:"title"`
	Description         string     `json:"description,omitempty" bson:"description,omitempty"`
	Order               int        `json:"order" bson:"order"`
	UI                  SectionUI  `json:"ui,omitempty" bson:"ui,omitempty"`
	VisibilityCondition string     `json:"visibility_condition,omitempty" bson:"visibility_condition,omitempty"`
	IsDisabled          bool       `json:"is_disabled" bson:"is_disabled"`
	IsRepeatableSection bool       `json:"is_repeatable_section" bson:"is_repeatable_section"`
	RepeatMin           int        `json:"repeat_min" bson:"repeat_min"`
	RepeatMax           *int       `json:"repeat_max,omitempty" bson:"repeat_max,omitempty"`
	Questions           []Question `json:"questions" bson:"questions"`
}

type FieldType string

const (
	FieldInput        FieldType = "input"
	FieldTextarea     FieldType = "textarea"
	FieldNumber       FieldType = "number"
	FieldSelect       FieldType = "select"
	FieldRadio        FieldType = "radio"
	FieldCheckbox     FieldType = "checkbox"
	FieldBoolean      FieldType = "boolean"
	FieldRating       FieldType = "rating"
	FieldDate         FieldType = "date"
	FieldFileUpload   FieldType = "file_upload"
	FieldAPISearch    FieldType = "api_search"
	FieldCalculated   FieldType = "calculated"
	FieldSignature    FieldType = "signature"
	FieldSlider       FieldType = "slider"
	FieldImage        FieldType = "image"
	FieldDivider      FieldType = "divider"
	FieldSpacer       FieldType = "spacer"
	FieldMatrixChoice FieldType = "matrix_choice"
)

// Option is one selectable value; OptionValue is what gets stored.
type Option struct {
	ID                          string `json:"id" bson:"id"`
	OptionLabel                 string `json:"option_label" bson:"option_label"`
	OptionValue                 string `json:"option_value" bson:"option_value"`
	IsDefault                   bool   `json:"is_default" bson:"is_default"`
	IsDisabled                  bool   `json:"is_disabled" bson:"is_disabled"`
	Order                       int    `json:"order" bson:"order"`
	FollowupVisibilityCondition string `json:"followup_visibility_condition,omitempty" bson:"followup_visibility_condition,omitempty"`
}

// Question is a single typed field with validation rules and
// conditional visibility/required logic.
type Question struct {
	ID                   string         `json:"id" bson:"id"`
	Label                string         `json:"label" bson:"label"`
	FieldType            FieldType      `json:"field_type" bson:"field_type"`
	IsRequired           bool           `json:"is_required" bson:"is_required"`
	RequiredCondition    string         `json:"required_condition,omitempty" bson:"required_condition,omitempty"`
	HelpText             string         `json:"help_text,omitempty" bson:"help_text,omitempty"`
	DefaultValue         any            `json:"default_value,omitempty" bson:"default_value,omitempty"`
	Order                int            `json:"order" bson:"order"`
	VisibilityCondition  string         `json:"visibility_condition,omitempty" bson:"visibility_condition,omitempty"`
	ValidationRules      map[string]any `json:"validation_rules,omitempty" bson:"validation_rules,omitempty"`
	IsRepeatableQuestion bool           `json:"is_repeatable_question" bson:"is_repeatable_question"`
	RepeatMin            int            `json:"repeat_min" bson:"repeat_min"`
	RepeatMax            *int           `json:"repeat_max,omitempty" bson:"repeat_max,omitempty"`
	Options              []Option       `json:"options,omitempty" bson:"options,omitempty"`
	FieldAPICall         string         `json:"field_api_call,omitempty" bson:"field_api_call,omitempty"`
	CustomScript         string         `json:"custom_script,omitempty" bson:"custom_script,omitempty"`
	MetaData             map[string]any `json:"meta_data,omitempty" bson:"meta_data,omitempty"`
}

type ResponseStatus string

const (
	StatusPending  ResponseStatus = "pending"
	StatusApproved ResponseStatus = "approved"
	StatusRejected ResponseStatus = "rejected"
)

// StatusLogEntry records one approval-state transition.
type StatusLogEntry struct {
	From    ResponseStatus `json:"from" bson:"from"`
	To      ResponseStatus `json:"to" bson:"to"`
	Actor   string         `json:"actor" bson:"actor"`
	At      time.Time      `json:"at" bson:"at"`
	Comment string         `json:"comment,omitempty" bson:"comment,omitempty"`
}

// ResponseMetadata captures the submission context.
type ResponseMetadata struct {
	Source           string `json:"source,omitempty" bson:"source,omitempty"`
	IP               string `json:"ip,omitempty" bson:"ip,omitempty"`
	UserAgent        string `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	SourceWorkflowID string `json:"source_workflow_id,omitempty" bson:"source_workflow_id,omitempty"`
}

// FormResponse is one submission, pinned to the form version active at
// submit time. Data maps section id to a field map, or to a list of
// field maps for repeatable sections.
type FormResponse struct {
	ID          string           `json:"id" bson:"_id"`
	FormID      string           `json:"form_id" bson:"form"`
	Version     string           `json:"version" bson:"version"`
	SubmittedBy string           `json:"submitted_by" bson:"submitted_by"`
	SubmittedAt time.Time        `json:"submitted_at" bson:"submitted_at"`
	UpdatedBy   string           `json:"updated_by,omitempty" bson:"updated_by,omitempty"`
	UpdatedAt   *time.Time       `json:"updated_at,omitempty" bson:"updated_at,omitempty"`
	Deleted     bool             `json:"deleted" bson:"deleted"`
	DeletedBy   string           `json:"deleted_by,omitempty" bson:"deleted_by,omitempty"`
	DeletedAt   *time.Time       `json:"deleted_at,omitempty" bson:"deleted_at,omitempty"`
	IsDraft     bool             `json:"is_draft" bson:"is_draft"`
	Status      ResponseStatus   `json:"status" bson:"status"`
	StatusLog   []StatusLogEntry `json:"status_log,omitempty" bson:"status_log,omitempty"`
	Data        map[string]any   `json:"data" bson:"data"`
	Metadata    ResponseMetadata `json:"metadata" bson:"metadata"`
}

type ChangeType string

const (
	ChangeCreate       ChangeType = "create"
	ChangeUpdate       ChangeType = "update"
	ChangeDelete       ChangeType = "delete"
	ChangeRestore      ChangeType = "restore"
	ChangeStatusChange ChangeType = "status_change"
)

// ResponseHistory is an append-only audit entry. Revision is a
// monotonic counter per response, used as a tiebreaker when clocks
// collide.
type ResponseHistory struct {
	ID         string         `json:"id" bson:"_id"`
	ResponseID string         `json:"response_id" bson:"response_id"`
	FormID     string         `json:"form_id" bson:"form_id"`
	Revision   int            `json:"version" bson:"version"`
	DataBefore map[string]any `json:"data_before,omitempty" bson:"data_before,omitempty"`
	DataAfter  map[string]any `json:"data_after,omitempty" bson:"data_after,omitempty"`
	ChangedBy  string         `json:"changed_by" bson:"changed_by"`
	ChangedAt  time.Time      `json:"changed_at" bson:"changed_at"`
	ChangeType ChangeType     `json:"change_type" bson:"change_type"`
}

type ResponseComment struct {
	ID         string    `json:"id" bson:"_id"`
	ResponseID string    `json:"response_id" bson:"response_id"`
	FormID     string    `json:"form_id" bson:"form_id"`
	Author     string    `json:"author" bson:"author"`
	Text       string    `json:"text" bson:"text"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

type SavedSearch struct {
	ID        string      `json:"id" bson:"_id"`
	UserID    string      `json:"user_id" bson:"user_id"`
	FormID    string      `json:"form_id" bson:"form_id"`
	Name      string      `json:"name" bson:"name"`
	Filter    *FilterNode `json:"filter,omitempty" bson:"filter,omitempty"`
	SortField string      `json:"sort_field,omitempty" bson:"sort_field,omitempty"`
	SortDesc  bool        `json:"sort_desc" bson:"sort_desc"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
}

// BlocklistEntry invalidates a JWT by its JTI until the token would
// have expired anyway.
type BlocklistEntry struct {
	JTI       string    `json:"jti" bson:"_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}

type ActionType string

const (
	ActionRedirectToForm ActionType = "redirect_to_form"
	ActionCreateDraft    ActionType = "create_draft"
	ActionNotifyUser     ActionType = "notify_user"
)

// WorkflowAction is one post-submission action. DataMapping maps
// target field ids to source keys (response header fields, dotted
// paths into data, or flat answer ids).
type WorkflowAction struct {
	Type              ActionType        `json:"type" bson:"type"`
	TargetFormID      string            `json:"target_form_id,omitempty" bson:"target_form_id,omitempty"`
	DataMapping       map[string]string `json:"data_mapping,omitempty" bson:"data_mapping,omitempty"`
	AssignToUserField string            `json:"assign_to_user_field,omitempty" bson:"assign_to_user_field,omitempty"`
}

// FormWorkflow fires its actions when TriggerCondition matches a
// submission to TriggerFormID. Selection is first-match-wins in
// CreatedAt order.
type FormWorkflow struct {
	ID               string           `json:"id" bson:"_id"`
	Name             string           `json:"name" bson:"name"`
	TriggerFormID    string           `json:"trigger_form_id" bson:"trigger_form_id"`
	TriggerCondition string           `json:"trigger_condition" bson:"trigger_condition"`
	Actions          []WorkflowAction `json:"actions" bson:"actions"`
	IsActive         bool             `json:"is_active" bson:"is_active"`
	CreatedBy        string           `json:"created_by" bson:"created_by"`
	CreatedAt        time.Time        `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" bson:"updated_at"`
}

// AuditLog rows record auth events, schema mutations and webhook dead
// letters for admin inspection.
type AuditLog struct {
	ID         string    `json:"id" bson:"_id"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	Level      string    `json:"level" bson:"level"`
	Message    string    `json:"message" bson:"message"`
	Action     string    `json:"action,omitempty" bson:"action,omitempty"`
	UserID     string    `json:"user_id,omitempty" bson:"user_id,omitempty"`
	EntityID   string    `json:"entity_id,omitempty" bson:"entity_id,omitempty"`
	EntityType string    `json:"entity_type,omitempty" bson:"entity_type,omitempty"`
	Data       string    `json:"data,omitempty" bson:"data,omitempty"`
}

type CommonFilter struct {
	Page   int
	Limit  int
	Search string
}

type FormFilter struct {
	CommonFilter
	CreatedBy string
	Status    FormStatus
}

type WorkflowFilter struct {
	CommonFilter
	TriggerFormID string
	ActiveOnly    bool
}

type AuditLogFilter struct {
	CommonFilter
	Level      string
	Action     string
	EntityID   string
	EntityType string
}

// FilterNode is one node of a response-search filter tree. Exactly one
// of And/Or/Not/leaf fields is populated.
type FilterNode struct {
	And       []FilterNode `json:"$and,omitempty" bson:"and,omitempty"`
	Or        []FilterNode `json:"$or,omitempty" bson:"or,omitempty"`
	Not       *FilterNode  `json:"$not,omitempty" bson:"not,omitempty"`
	FieldID   string       `json:"field_id,omitempty" bson:"field_id,omitempty"`
	Op        string       `json:"op,omitempty" bson:"op,omitempty"`
	Value     any          `json:"value,omitempty" bson:"value,omitempty"`
	DateRange *DateRange   `json:"date_range,omitempty" bson:"date_range,omitempty"`
}

type DateRange struct {
	From *time.Time `json:"from,omitempty" bson:"from,omitempty"`
	To   *time.Time `json:"to,omitempty" bson:"to,omitempty"`
}

// ResponseFilter drives search, paginated listing and counting.
// Deleted responses and drafts are excluded unless explicitly included.
type ResponseFilter struct {
	FormID         string
	SubmittedBy    string
	Filter         *FilterNode
	SortField      string
	SortDesc       bool
	Cursor         string
	Limit          int
	Page           int
	IncludeDeleted bool
	IncludeDrafts  bool
}

// ResponseSummary aggregates non-deleted, non-draft responses.
type ResponseSummary struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	Drafts          int            `json:"drafts"`
	LastSubmittedAt *time.Time     `json:"last_submitted_at,omitempty"`
}

type TimelinePoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Storage is the persistence boundary. Any document-oriented store can
// implement it; the repo ships a MongoDB implementation and an
// in-memory one for tests and single-node development.
type Storage interface {
	// Users. Create and Update enforce unique-sparse identifiers and
	// return ErrDuplicate on collision.
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	DeleteUser(ctx context.Context, id string) error
	GetUser(ctx context.Context, id string) (User, error)
	// GetUserByIdentifier matches email, username or employee_id.
	GetUserByIdentifier(ctx context.Context, identifier string) (User, error)
	GetUserByMobile(ctx context.Context, mobile string) (User, error)
	ListUsers(ctx context.Context, filter CommonFilter) ([]User, int, error)

	// Forms. CreateForm returns ErrDuplicate on slug collision.
	// DeleteForm cascades to responses, history, comments and saved
	// searches of that form.
	CreateForm(ctx context.Context, form Form) error
	UpdateForm(ctx context.Context, form Form) error
	DeleteForm(ctx context.Context, id string) error
	GetForm(ctx context.Context, id string) (Form, error)
	GetFormBySlug(ctx context.Context, slug string) (Form, error)
	ListForms(ctx context.Context, filter FormFilter) ([]Form, int, error)

	// Responses. Insert/Update persist the response together with its
	// history entry; history revisions are monotonic per response.
	InsertResponse(ctx context.Context, resp FormResponse, hist ResponseHistory) error
	UpdateResponse(ctx context.Context, resp FormResponse, hist ResponseHistory) error
	GetResponse(ctx context.Context, id string) (FormResponse, error)
	SearchResponses(ctx context.Context, filter ResponseFilter) ([]FormResponse, string, error)
	ListResponses(ctx context.Context, filter ResponseFilter) ([]FormResponse, int, error)
	CountResponses(ctx context.Context, filter ResponseFilter) (int, error)
	ListHistory(ctx context.Context, responseID string) ([]ResponseHistory, error)
	NextHistoryRevision(ctx context.Context, responseID string) (int, error)

	// Analytics over non-deleted, non-draft responses.
	ResponseSummary(ctx context.Context, formID string) (ResponseSummary, error)
	ResponseTimeline(ctx context.Context, formID string, days int) ([]TimelinePoint, error)

	CreateComment(ctx context.Context, c ResponseComment) error
	ListComments(ctx context.Context, responseID string) ([]ResponseComment, error)
	DeleteComment(ctx context.Context, id string) error

	CreateSavedSearch(ctx context.Context, s SavedSearch) error
	ListSavedSearches(ctx context.Context, userID, formID string) ([]SavedSearch, error)
	DeleteSavedSearch(ctx context.Context, id string) error

	AddBlocklistEntry(ctx context.Context, e BlocklistEntry) error
	IsBlocklisted(ctx context.Context, jti string) (bool, error)

	CreateWorkflow(ctx context.Context, wf FormWorkflow) error
	UpdateWorkflow(ctx context.Context, wf FormWorkflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	GetWorkflow(ctx context.Context, id string) (FormWorkflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]FormWorkflow, int, error)

	CreateAuditLog(ctx context.Context, log AuditLog) error
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]AuditLog, int, error)
}
