package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Event is the canonical record of one webhook delivery. It is written
// once at ingestion; only Processed, ProcessedAt, and RepositoryID
// change afterwards, and only via MarkProcessed.
type Event struct {
	ID     int64  `gorm:"primarykey"`
	Source string `gorm:"index"`

	EventType string `gorm:"index"`
	Action    *string
	ActorName *string `gorm:"index"`

	ActorEmail *string
	ActorID    *string

	// RawEvent holds the verbatim payload bytes for audit and replay.
	RawEvent string `gorm:"type:text"`

	// DeliveryID is supplied by the source or generated at ingestion.
	// Indexed but deliberately not unique: redeliveries reuse it.
	DeliveryID string `gorm:"type:text;index"`
	Signature  *string

	ReceivedAt  time.Time `gorm:"index"`
	Processed   bool      `gorm:"index"`
	ProcessedAt *time.Time

	RepositoryID *int64 `gorm:"index"`
}

// Repository mirrors the source platform's repository, keyed by its
// platform-assigned id. Mutable fields are refreshed on every sighting.
type Repository struct {
	ID       int64 `gorm:"primarykey" json:"id"`
	GithubID int64 `gorm:"uniqueIndex" json:"github_id"`

	Name        string  `json:"name"`
	FullName    string  `gorm:"index" json:"full_name"`
	Owner       string  `json:"owner"`
	Description *string `json:"description"`
	URL         string  `json:"url"`
	IsPrivate   bool    `json:"is_private"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Commit is keyed by (sha, repository_id): the same sha can exist in
// forks, so the sha alone is not unique.
type Commit struct {
	ID             int64  `gorm:"primarykey" json:"id"`
	RepositoryID   int64  `gorm:"uniqueIndex:idx_commits_sha_repo;index" json:"repository_id"`
	WebhookEventID int64  `json:"webhook_event_id"`
	SHA            string `gorm:"uniqueIndex:idx_commits_sha_repo" json:"sha"`

	Message        string    `json:"message"`
	AuthorName     string    `json:"author_name"`
	AuthorEmail    string    `json:"author_email"`
	CommitterName  string    `json:"committer_name"`
	CommitterEmail string    `json:"committer_email"`
	CommittedAt    time.Time `json:"committed_at"`
	URL            string    `json:"url"`

	CreatedAt time.Time `json:"created_at"`
}

// PullRequest is keyed by the platform-global github_id. Number is the
// repo-local ordinal users see, not a key.
type PullRequest struct {
	ID             int64 `gorm:"primarykey" json:"id"`
	RepositoryID   int64 `gorm:"index" json:"repository_id"`
	WebhookEventID int64 `json:"webhook_event_id"`
	GithubID       int64 `gorm:"uniqueIndex" json:"github_id"`

	Number     int        `json:"number"`
	Title      string     `json:"title"`
	State      string     `json:"state"`
	Author     string     `json:"author"`
	BaseBranch string     `json:"base_branch"`
	HeadBranch string     `json:"head_branch"`
	URL        string     `json:"url"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at"`
	MergedAt   *time.Time `json:"merged_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Issue is keyed by the platform-global github_id.
type Issue struct {
	ID             int64 `gorm:"primarykey" json:"id"`
	RepositoryID   int64 `gorm:"index" json:"repository_id"`
	WebhookEventID int64 `json:"webhook_event_id"`
	GithubID       int64 `gorm:"uniqueIndex" json:"github_id"`

	Number   int        `json:"number"`
	Title    string     `json:"title"`
	State    string     `json:"state"`
	Author   string     `json:"author"`
	Labels   StringList `gorm:"type:text" json:"labels"`
	URL      string     `json:"url"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StringList stores a []string as a JSON array in a text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, (*[]string)(l))
}
