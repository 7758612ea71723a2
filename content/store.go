package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/courseforge/errors"
)

// Store persists courses, lessons and content variations.
// Every read is scoped to an owner; another owner's row is reported as NotFound.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a content store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock replaces the store clock (tests)
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// CreateCourse inserts a draft course
func (s *Store) CreateCourse(ctx context.Context, owner, title, topic, audience string) (*Course, error) {
	title = strings.TrimSpace(title)
	if owner == "" || title == "" {
		return nil, errors.NewInvalidRequestError("course needs an owner and a title")
	}
	if strings.TrimSpace(topic) == "" {
		topic = title
	}
	now := s.now().UTC()
	c := &Course{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Title:     title,
		Topic:     topic,
		Audience:  audience,
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO courses (id, owner_id, title, topic, audience, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Title, c.Topic, c.Audience, c.Status, now, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create course")
	}
	return c, nil
}

const courseColumns = `id, owner_id, title, topic, audience, status, outline, image_ref, created_at, updated_at`

func scanCourse(row interface{ Scan(...interface{}) error }) (*Course, error) {
	var c Course
	var outline, imageRef sql.NullString
	if err := row.Scan(&c.ID, &c.OwnerID, &c.Title, &c.Topic, &c.Audience, &c.Status,
		&outline, &imageRef, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if outline.Valid && outline.String != "" {
		c.Outline = &Outline{}
		if err := json.Unmarshal([]byte(outline.String), c.Outline); err != nil {
			return nil, errors.Wrapf(err, "course %s has a corrupt outline", c.ID)
		}
	}
	c.ImageRef = imageRef.String
	return &c, nil
}

// GetCourse returns owner's course
func (s *Store) GetCourse(ctx context.Context, owner, id string) (*Course, error) {
	c, err := scanCourse(s.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE id = ? AND owner_id = ?`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("course not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get course")
	}
	return c, nil
}

// ListCourses returns owner's courses, newest first
func (s *Store) ListCourses(ctx context.Context, owner string) ([]*Course, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE owner_id = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list courses")
	}
	defer rows.Close()

	var out []*Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan course")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate courses")
}

// CreateLesson inserts a draft lesson under one of owner's courses
func (s *Store) CreateLesson(ctx context.Context, owner, courseID, title string, durationMinutes int) (*Lesson, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.NewInvalidRequestError("lesson title cannot be empty")
	}
	if _, err := s.GetCourse(ctx, owner, courseID); err != nil {
		return nil, err
	}
	if durationMinutes <= 0 {
		durationMinutes = 10
	}

	now := s.now().UTC()
	l := &Lesson{
		ID:              uuid.NewString(),
		CourseID:        courseID,
		OwnerID:         owner,
		Title:           title,
		DurationMinutes: durationMinutes,
		Status:          StatusDraft,
		Objectives:      []string{},
		Activities:      []Activity{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lessons (id, course_id, owner_id, title, duration_minutes, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CourseID, l.OwnerID, l.Title, l.DurationMinutes, l.Status, now, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create lesson")
	}
	return l, nil
}

const lessonColumns = `id, course_id, owner_id, title, duration_minutes, status, objectives, plan, script, activities, created_at, updated_at`

func scanLesson(row interface{ Scan(...interface{}) error }) (*Lesson, error) {
	var l Lesson
	var objectives, activities string
	var plan, script sql.NullString
	if err := row.Scan(&l.ID, &l.CourseID, &l.OwnerID, &l.Title, &l.DurationMinutes, &l.Status,
		&objectives, &plan, &script, &activities, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(objectives), &l.Objectives); err != nil {
		return nil, errors.Wrapf(err, "lesson %s has corrupt objectives", l.ID)
	}
	if err := json.Unmarshal([]byte(activities), &l.Activities); err != nil {
		return nil, errors.Wrapf(err, "lesson %s has corrupt activities", l.ID)
	}
	if plan.Valid && plan.String != "" {
		l.Plan = &LessonPlan{}
		if err := json.Unmarshal([]byte(plan.String), l.Plan); err != nil {
			return nil, errors.Wrapf(err, "lesson %s has a corrupt plan", l.ID)
		}
	}
	l.Script = script.String
	return &l, nil
}

// GetLesson returns owner's lesson
func (s *Store) GetLesson(ctx context.Context, owner, id string) (*Lesson, error) {
	l, err := scanLesson(s.db.QueryRowContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = ? AND owner_id = ?`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("lesson not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get lesson")
	}
	return l, nil
}

// ListLessons returns the lessons of one of owner's courses in creation order
func (s *Store) ListLessons(ctx context.Context, owner, courseID string) ([]*Lesson, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE course_id = ? AND owner_id = ? ORDER BY created_at, rowid`,
		courseID, owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list lessons")
	}
	defer rows.Close()

	var out []*Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan lesson")
		}
		out = append(out, l)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate lessons")
}

// BeginGeneration claims an entity for one job: it flips status to generating
// unless it already is. A second claimant gets ErrConflict; a missing or foreign
// row is NotFound.
func (s *Store) BeginGeneration(ctx context.Context, kind Kind, id, owner string) error {
	table, ok := kind.table()
	if !ok {
		return errors.AssertionFailedf("unknown content kind %q", kind)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET status = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND status != ?`, table),
		StatusGenerating, s.now().UTC(), id, owner, StatusGenerating)
	if err != nil {
		return errors.Wrapf(err, "failed to claim %s %s", kind, id)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ? AND owner_id = ?`, table), id, owner).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError("%s not found: %s", kind, id)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to check %s %s", kind, id)
	}
	return errors.WithHint(
		errors.Wrapf(errors.ErrConflict, "%s %s is already generating", kind, id),
		"Wait for the running job to finish, then try again",
	)
}

// MarkError settles a claimed entity after its job failed
func (s *Store) MarkError(ctx context.Context, kind Kind, id string) error {
	table, ok := kind.table()
	if !ok {
		return errors.AssertionFailedf("unknown content kind %q", kind)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE id = ? AND status = ?`, table),
		StatusError, s.now().UTC(), id, StatusGenerating)
	return errors.Wrapf(err, "failed to mark %s %s as error", kind, id)
}

// ReleaseGeneration drops a claim whose job never ran, restoring the status
// the entity had before BeginGeneration.
func (s *Store) ReleaseGeneration(ctx context.Context, kind Kind, id string, restore Status) error {
	table, ok := kind.table()
	if !ok {
		return errors.AssertionFailedf("unknown content kind %q", kind)
	}
	if restore == StatusGenerating || restore == "" {
		restore = StatusDraft
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE id = ? AND status = ?`, table),
		restore, s.now().UTC(), id, StatusGenerating)
	return errors.Wrapf(err, "failed to release %s %s", kind, id)
}

// FinishOutline writes the outline and completes the course
func (s *Store) FinishOutline(ctx context.Context, courseID string, outline *Outline) error {
	data, err := json.Marshal(outline)
	if err != nil {
		return errors.Wrap(err, "failed to marshal outline")
	}
	return s.finish(ctx, KindCourse, courseID, `outline = ?`, string(data))
}

// FinishCourseImage stores the course cover reference and completes the course
func (s *Store) FinishCourseImage(ctx context.Context, courseID, ref string) error {
	return s.finish(ctx, KindCourse, courseID, `image_ref = ?`, ref)
}

// FinishLessonPlan writes the plan, replaces the objectives and completes the lesson
func (s *Store) FinishLessonPlan(ctx context.Context, lessonID string, plan *LessonPlan, objectives []string) error {
	planData, err := json.Marshal(plan)
	if err != nil {
		return errors.Wrap(err, "failed to marshal lesson plan")
	}
	if objectives == nil {
		objectives = []string{}
	}
	objData, err := json.Marshal(objectives)
	if err != nil {
		return errors.Wrap(err, "failed to marshal objectives")
	}
	return s.finish(ctx, KindLesson, lessonID, `plan = ?, objectives = ?`, string(planData), string(objData))
}

// FinishScript writes the script and completes the lesson
func (s *Store) FinishScript(ctx context.Context, lessonID, script string) error {
	return s.finish(ctx, KindLesson, lessonID, `script = ?`, script)
}

// FinishActivity appends activity to the lesson's activities and completes it.
// Existing activities are kept.
func (s *Store) FinishActivity(ctx context.Context, lessonID string, activity Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() // no-op after commit

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT activities FROM lessons WHERE id = ?`, lessonID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError("lesson not found: %s", lessonID)
	}
	if err != nil {
		return errors.Wrap(err, "failed to read activities")
	}

	var activities []Activity
	if err := json.Unmarshal([]byte(raw), &activities); err != nil {
		return errors.Wrapf(err, "lesson %s has corrupt activities", lessonID)
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = s.now().UTC()
	}
	activities = append(activities, activity)
	data, err := json.Marshal(activities)
	if err != nil {
		return errors.Wrap(err, "failed to marshal activities")
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE lessons SET activities = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(data), StatusComplete, s.now().UTC(), lessonID); err != nil {
		return errors.Wrap(err, "failed to append activity")
	}
	return errors.Wrap(tx.Commit(), "failed to commit activity")
}

// finish sets the given columns and moves the entity to complete in one statement
func (s *Store) finish(ctx context.Context, kind Kind, id, set string, args ...interface{}) error {
	table, ok := kind.table()
	if !ok {
		return errors.AssertionFailedf("unknown content kind %q", kind)
	}
	args = append(args, StatusComplete, s.now().UTC(), id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s, status = ?, updated_at = ? WHERE id = ?`, table, set), args...)
	if err != nil {
		return errors.Wrapf(err, "failed to write %s %s", kind, id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewNotFoundError("%s not found: %s", kind, id)
	}
	return nil
}

// CreateVariation inserts a completed variation with its version 1
func (s *Store) CreateVariation(ctx context.Context, v *ContentVariation) error {
	if !v.Kind.Valid() {
		return errors.NewInvalidRequestError("unknown variation kind %q", v.Kind)
	}
	now := s.now().UTC()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if len(v.Metadata) == 0 {
		v.Metadata = json.RawMessage(`{}`)
	}
	v.Status = StatusComplete
	v.CurrentVersion = 1
	v.CreatedAt = now
	v.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO content_variations (id, lesson_id, owner_id, kind, title, body, metadata, status, current_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.LessonID, v.OwnerID, v.Kind, v.Title, v.Body, string(v.Metadata), v.Status, v.CurrentVersion, now, now); err != nil {
		return errors.Wrap(err, "failed to create content variation")
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO content_variation_versions (variation_id, version, body, created_at)
		VALUES (?, 1, ?, ?)`, v.ID, v.Body, now); err != nil {
		return errors.Wrap(err, "failed to record variation version")
	}
	return errors.Wrap(tx.Commit(), "failed to commit content variation")
}

const variationColumns = `id, lesson_id, owner_id, kind, title, body, metadata, status, current_version, created_at, updated_at`

func scanVariation(row interface{ Scan(...interface{}) error }) (*ContentVariation, error) {
	var v ContentVariation
	var metadata string
	if err := row.Scan(&v.ID, &v.LessonID, &v.OwnerID, &v.Kind, &v.Title, &v.Body, &metadata,
		&v.Status, &v.CurrentVersion, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	v.Metadata = json.RawMessage(metadata)
	return &v, nil
}

// GetVariation returns one of owner's variations
func (s *Store) GetVariation(ctx context.Context, owner, id string) (*ContentVariation, error) {
	v, err := scanVariation(s.db.QueryRowContext(ctx,
		`SELECT `+variationColumns+` FROM content_variations WHERE id = ? AND owner_id = ?`, id, owner))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("content variation not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get content variation")
	}
	return v, nil
}

// ListVariations returns the variations of one of owner's lessons, oldest first
func (s *Store) ListVariations(ctx context.Context, owner, lessonID string) ([]*ContentVariation, error) {
	if _, err := s.GetLesson(ctx, owner, lessonID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+variationColumns+` FROM content_variations WHERE lesson_id = ? AND owner_id = ? ORDER BY created_at, rowid`,
		lessonID, owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list content variations")
	}
	defer rows.Close()

	var out []*ContentVariation
	for rows.Next() {
		v, err := scanVariation(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan content variation")
		}
		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate content variations")
}

// AddVersion stores body as the next version of a variation and makes it current
func (s *Store) AddVersion(ctx context.Context, owner, variationID, body string) (*VariationVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() // no-op after commit

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT current_version FROM content_variations WHERE id = ? AND owner_id = ?`, variationID, owner).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("content variation not found: %s", variationID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read variation version")
	}

	now := s.now().UTC()
	ver := &VariationVersion{VariationID: variationID, Version: current + 1, Body: body, CreatedAt: now}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO content_variation_versions (variation_id, version, body, created_at)
		VALUES (?, ?, ?, ?)`, variationID, ver.Version, body, now); err != nil {
		return nil, errors.Wrap(err, "failed to record variation version")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE content_variations SET body = ?, current_version = ?, updated_at = ? WHERE id = ?`,
		body, ver.Version, now, variationID); err != nil {
		return nil, errors.Wrap(err, "failed to update variation")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit variation version")
	}
	return ver, nil
}

// Versions returns every version of one of owner's variations, oldest first
func (s *Store) Versions(ctx context.Context, owner, variationID string) ([]VariationVersion, error) {
	if _, err := s.GetVariation(ctx, owner, variationID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT variation_id, version, body, created_at
		FROM content_variation_versions WHERE variation_id = ? ORDER BY version`, variationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list variation versions")
	}
	defer rows.Close()

	var out []VariationVersion
	for rows.Next() {
		var v VariationVersion
		if err := rows.Scan(&v.VariationID, &v.Version, &v.Body, &v.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan variation version")
		}
		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate variation versions")
}
