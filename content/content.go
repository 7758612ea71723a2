// Package content persists the artifacts generation jobs produce:
// courses with their outline, lessons with plan, script and activities,
// and content variations derived from a lesson script.
package content

import (
	"encoding/json"
	"time"
)

// Status mirrors the progress of the job that owns an entity
type Status string

const (
	StatusDraft      Status = "draft"
	StatusGenerating Status = "generating"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

// Kind names a lockable entity table
type Kind string

const (
	KindCourse Kind = "course"
	KindLesson Kind = "lesson"
)

func (k Kind) table() (string, bool) {
	switch k {
	case KindCourse:
		return "courses", true
	case KindLesson:
		return "lessons", true
	}
	return "", false
}

type Course struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Topic     string    `json:"topic"`
	Audience  string    `json:"audience"`
	Status    Status    `json:"status"`
	Outline   *Outline  `json:"outline,omitempty"`
	ImageRef  string    `json:"image_ref,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Outline struct {
	Modules []Module `json:"modules"`
}

type Module struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Lectures    []Lecture `json:"lectures"`
}

type Lecture struct {
	Title           string `json:"title"`
	Summary         string `json:"summary"`
	DurationMinutes int    `json:"duration_minutes"`
}

// LectureCount totals lectures across modules
func (o *Outline) LectureCount() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, m := range o.Modules {
		n += len(m.Lectures)
	}
	return n
}

type Lesson struct {
	ID              string      `json:"id"`
	CourseID        string      `json:"course_id"`
	OwnerID         string      `json:"owner_id"`
	Title           string      `json:"title"`
	DurationMinutes int         `json:"duration_minutes"`
	Status          Status      `json:"status"`
	Objectives      []string    `json:"objectives"`
	Plan            *LessonPlan `json:"plan,omitempty"`
	Script          string      `json:"script,omitempty"`
	Activities      []Activity  `json:"activities"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// HasScript reports whether the lesson has a usable script
func (l *Lesson) HasScript() bool {
	for _, r := range l.Script {
		if r != ' ' && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}

type LessonPlan struct {
	Introduction string    `json:"introduction"`
	Sections     []Section `json:"sections"`
	Activity     string    `json:"activity"`
}

type Section struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	KeyPoints []string `json:"key_points,omitempty"`
	Minutes   int      `json:"minutes,omitempty"`
}

// Activity is an appended learning activity (quizzes today)
type Activity struct {
	Kind      string          `json:"kind"`
	Title     string          `json:"title"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// VariationKind is a derived format of a lesson script
type VariationKind string

const (
	VariationYouTubeScript VariationKind = "youtube-script"
	VariationBlogPost      VariationKind = "blog-post"
	VariationEbookChapter  VariationKind = "ebook-chapter"
)

// Valid reports whether k is a known variation kind
func (k VariationKind) Valid() bool {
	switch k {
	case VariationYouTubeScript, VariationBlogPost, VariationEbookChapter:
		return true
	}
	return false
}

type ContentVariation struct {
	ID             string          `json:"id"`
	LessonID       string          `json:"lesson_id"`
	OwnerID        string          `json:"owner_id"`
	Kind           VariationKind   `json:"kind"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Status         Status          `json:"status"`
	CurrentVersion int             `json:"current_version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type VariationVersion struct {
	VariationID string    `json:"variation_id"`
	Version     int       `json:"version"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}
