// Package board holds the persisted board documents and the views derived
// from them.
package board

import "time"

type Layout string

const (
	LayoutShelf  Layout = "shelf"
	LayoutWall   Layout = "wall"
	LayoutGrid   Layout = "grid"
	LayoutStream Layout = "stream"
)

// Sectioned reports whether boards with this layout start with a default
// section.
func (l Layout) Sectioned() bool {
	return l == LayoutShelf || l == LayoutStream
}

func (l Layout) Valid() bool {
	switch l {
	case LayoutShelf, LayoutWall, LayoutGrid, LayoutStream:
		return true
	}
	return false
}

type Privacy string

const (
	PrivacyPublic   Privacy = "public"
	PrivacyPrivate  Privacy = "private"
	PrivacyPassword Privacy = "password"
)

type GuestPermission string

const (
	GuestEdit GuestPermission = "edit"
	GuestView GuestPermission = "view"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
)

const (
	DefaultSort        = "manual"
	DefaultSectionName = "Uncategorized"
	GuestUID           = "anonymous"
	GuestName          = "Anonymous"
)

type Board struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Description       string          `json:"description,omitempty"`
	Layout            Layout          `json:"layout"`
	OwnerID           string          `json:"ownerId"`
	Privacy           Privacy         `json:"privacy"`
	Password          string          `json:"password,omitempty"`
	GuestPermission   GuestPermission `json:"guestPermission"`
	ModerationEnabled bool            `json:"moderationEnabled"`
	DefaultSort       string          `json:"defaultSort"`
	FolderID          string          `json:"folderId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Redacted returns a copy without the password hash, for sending to clients.
func (b Board) Redacted() Board {
	b.Password = ""
	return b
}

type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
}

type Section struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
	Color   string `json:"color,omitempty"`
	Order   int    `json:"order"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Author is a snapshot of the user taken when the content was created.
type Author struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
}

type Attachment struct {
	URL          string `json:"url"`
	PublicID     string `json:"publicId"`
	DeleteToken  string `json:"deleteToken,omitempty"`
	ResourceType string `json:"resourceType"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Name         string `json:"name,omitempty"`
}

type PollOption struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Voters []string `json:"voters"`
}

// HasVoter reports whether voterID is in the option's voter set.
func (o PollOption) HasVoter(voterID string) bool {
	for _, v := range o.Voters {
		if v == voterID {
			return true
		}
	}
	return false
}

type Poll struct {
	Question      string       `json:"question"`
	Options       []PollOption `json:"options"`
	AllowMultiple bool         `json:"allowMultiple"`
	TotalVotes    int          `json:"totalVotes"`
}

type Comment struct {
	ID        string    `json:"id"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c Comment) Pending() bool { return c.Status == StatusPending }

type Post struct {
	ID          string       `json:"id"`
	BoardID     string       `json:"boardId"`
	SectionID   string       `json:"sectionId,omitempty"`
	Position    *Position    `json:"position,omitempty"`
	Author      Author       `json:"author"`
	Title       string       `json:"title,omitempty"`
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Poll        *Poll        `json:"poll,omitempty"`
	Comments    []Comment    `json:"comments,omitempty"`
	Color       string       `json:"color,omitempty"`
	Likes       int          `json:"likes"`
	Order       int          `json:"order"`
	Status      Status       `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
}

func (p Post) Pending() bool { return p.Status == StatusPending }

// HasPendingComments reports whether any embedded comment awaits approval.
func (p Post) HasPendingComments() bool {
	for _, c := range p.Comments {
		if c.Pending() {
			return true
		}
	}
	return false
}

// InitialStatus is the moderation state of new content: pending only when the
// board moderates and the author is not its owner.
func InitialStatus(b Board, authorUID string) Status {
	if b.ModerationEnabled && authorUID != b.OwnerID {
		return StatusPending
	}
	return StatusApproved
}

// GlobalConfig is the configs/global document.
type GlobalConfig struct {
	Whitelist []string `json:"whitelist"`
}
