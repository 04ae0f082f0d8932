package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	internaldb "examportal/internal/db"
	"examportal/internal/examerr"
)

// SQLStore persists exams and attempts through database/sql. Questions,
// answers and results are stored as JSON snapshots.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SQLStore) CreateExam(ctx context.Context, e Exam) (*Exam, error) {
	questionsJSON, err := json.Marshal(e.Questions)
	if err != nil {
		return nil, fmt.Errorf("encode exam questions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO exams (
			title,
			subject,
			description,
			questions_json,
			duration_minutes,
			start_time,
			end_time,
			allowed_attempts,
			randomize_questions,
			show_results,
			status,
			created_by,
			created_at,
			updated_at,
			published_at,
			archived_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING id
	`, e.Title, e.Subject, e.Description, string(questionsJSON), e.DurationMinutes,
		e.StartTime.UTC(), e.EndTime.UTC(), e.AllowedAttempts, e.RandomizeQuestions, e.ShowResults,
		string(e.Status), nullableID(e.CreatedBy), e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
		nullTime(e.PublishedAt), nullTime(e.ArchivedAt)).Scan(&e.ID); err != nil {
		return nil, fmt.Errorf("insert exam: %w", err)
	}
	return &e, nil
}

func (s *SQLStore) GetExam(ctx context.Context, id int64) (*Exam, error) {
	row := s.db.QueryRowContext(ctx, selectExamSQL+` WHERE id = $1`, id)
	e, err := scanExam(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("load exam: %w", err)
	}
	return e, nil
}

func (s *SQLStore) ListExams(ctx context.Context, createdBy int64) ([]Exam, error) {
	rows, err := s.db.QueryContext(ctx, selectExamSQL+`
		WHERE (CAST($1 AS BIGINT) = 0 OR created_by = $1)
		ORDER BY start_time ASC, id ASC
	`, createdBy)
	if err != nil {
		return nil, fmt.Errorf("query exams: %w", err)
	}
	defer rows.Close()

	out := make([]Exam, 0)
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exam: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exams: %w", err)
	}
	return out, nil
}

func (s *SQLStore) UpdateExam(ctx context.Context, e Exam, expected Status) error {
	questionsJSON, err := json.Marshal(e.Questions)
	if err != nil {
		return fmt.Errorf("encode exam questions: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE exams
		SET title = $2,
			subject = $3,
			description = $4,
			questions_json = $5,
			duration_minutes = $6,
			start_time = $7,
			end_time = $8,
			allowed_attempts = $9,
			randomize_questions = $10,
			show_results = $11,
			status = $12,
			updated_at = $13,
			published_at = $14,
			archived_at = $15
		WHERE id = $1 AND status = $16
	`, e.ID, e.Title, e.Subject, e.Description, string(questionsJSON), e.DurationMinutes,
		e.StartTime.UTC(), e.EndTime.UTC(), e.AllowedAttempts, e.RandomizeQuestions, e.ShowResults,
		string(e.Status), e.UpdatedAt.UTC(), nullTime(e.PublishedAt), nullTime(e.ArchivedAt), string(expected))
	if err != nil {
		return fmt.Errorf("update exam: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	if err := s.db.QueryRowContext(ctx, `SELECT status FROM exams WHERE id = $1`, e.ID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrExamNotFound
		}
		return fmt.Errorf("load exam status: %w", err)
	}
	return examerr.InvalidState("exam", e.ID, current, "update from "+string(expected))
}

func (s *SQLStore) CreateAttempt(ctx context.Context, examID, studentID int64, build func(prior int) (Attempt, error)) (*Attempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin start attempt tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prior int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM attempts
		WHERE exam_id = $1 AND student_id = $2
	`, examID, studentID).Scan(&prior); err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}

	a, err := build(prior)
	if err != nil {
		return nil, err
	}
	cols, err := encodeAttempt(a)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO attempts (
			exam_id,
			student_id,
			ordinal,
			status,
			started_at,
			expires_at,
			submitted_at,
			graded_at,
			question_order_json,
			answers_json,
			results_json,
			score,
			max_score,
			feedback,
			graded_by
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING id
	`, a.ExamID, a.StudentID, a.Ordinal, string(a.Status), a.StartedAt.UTC(), a.ExpiresAt.UTC(),
		nullTime(a.SubmittedAt), nullTime(a.GradedAt), cols.order, cols.answers, cols.results,
		nullScore(a.Score), a.MaxScore, a.Feedback, nullableID(a.GradedBy)).Scan(&a.ID)
	if err != nil {
		if internaldb.IsUniqueViolation(err) {
			return nil, &examerr.NotOpenError{ExamID: examID, StudentID: studentID, Reason: "attempt already started"}
		}
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if internaldb.IsUniqueViolation(err) {
			return nil, &examerr.NotOpenError{ExamID: examID, StudentID: studentID, Reason: "attempt already started"}
		}
		return nil, fmt.Errorf("commit start attempt: %w", err)
	}
	return &a, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id int64) (*Attempt, error) {
	return loadAttempt(ctx, s.db, id)
}

func loadAttempt(ctx context.Context, q queryable, id int64) (*Attempt, error) {
	row := q.QueryRowContext(ctx, selectAttemptSQL+` WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	return a, nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, selectAttemptSQL+`
		WHERE (CAST($1 AS BIGINT) = 0 OR exam_id = $1)
		  AND (CAST($2 AS BIGINT) = 0 OR student_id = $2)
		  AND (CAST($3 AS TEXT) = '' OR status = $3)
		ORDER BY started_at DESC, id DESC
	`, f.ExamID, f.StudentID, string(f.Status))
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := make([]Attempt, 0)
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *SQLStore) CountAttempts(ctx context.Context, examID, studentID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM attempts
		WHERE exam_id = $1 AND student_id = $2
	`, examID, studentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (s *SQLStore) UpdateAttempt(ctx context.Context, a Attempt, expected AttemptStatus) error {
	cols, err := encodeAttempt(a)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE attempts
		SET status = $2,
			submitted_at = $3,
			graded_at = $4,
			answers_json = $5,
			results_json = $6,
			score = $7,
			feedback = $8,
			graded_by = $9
		WHERE id = $1 AND status = $10
	`, a.ID, string(a.Status), nullTime(a.SubmittedAt), nullTime(a.GradedAt), cols.answers, cols.results,
		nullScore(a.Score), a.Feedback, nullableID(a.GradedBy), string(expected))
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	cur, err := loadAttempt(ctx, s.db, a.ID)
	if err != nil {
		return err
	}
	return examerr.InvalidState("attempt", a.ID, string(cur.Status), "update from "+string(expected))
}

const selectExamSQL = `
	SELECT
		id,
		title,
		subject,
		description,
		questions_json,
		duration_minutes,
		start_time,
		end_time,
		allowed_attempts,
		randomize_questions,
		show_results,
		status,
		created_by,
		created_at,
		updated_at,
		published_at,
		archived_at
	FROM exams`

func scanExam(scanner interface{ Scan(dest ...any) error }) (*Exam, error) {
	var (
		e             Exam
		status        string
		questionsJSON string
		createdBy     sql.NullInt64
		publishedAt   sql.NullTime
		archivedAt    sql.NullTime
	)
	if err := scanner.Scan(
		&e.ID,
		&e.Title,
		&e.Subject,
		&e.Description,
		&questionsJSON,
		&e.DurationMinutes,
		&e.StartTime,
		&e.EndTime,
		&e.AllowedAttempts,
		&e.RandomizeQuestions,
		&e.ShowResults,
		&status,
		&createdBy,
		&e.CreatedAt,
		&e.UpdatedAt,
		&publishedAt,
		&archivedAt,
	); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	e.CreatedBy = createdBy.Int64
	e.PublishedAt = timePtr(publishedAt)
	e.ArchivedAt = timePtr(archivedAt)
	e.Questions = []ExamQuestion{}
	if questionsJSON != "" {
		if err := json.Unmarshal([]byte(questionsJSON), &e.Questions); err != nil {
			return nil, fmt.Errorf("decode exam questions: %w", err)
		}
	}
	return &e, nil
}

const selectAttemptSQL = `
	SELECT
		id,
		exam_id,
		student_id,
		ordinal,
		status,
		started_at,
		expires_at,
		submitted_at,
		graded_at,
		question_order_json,
		answers_json,
		results_json,
		score,
		max_score,
		feedback,
		graded_by
	FROM attempts`

func scanAttempt(scanner interface{ Scan(dest ...any) error }) (*Attempt, error) {
	var (
		a           Attempt
		status      string
		submittedAt sql.NullTime
		gradedAt    sql.NullTime
		orderJSON   string
		answersJSON string
		resultsJSON string
		score       sql.NullInt64
		gradedBy    sql.NullInt64
	)
	if err := scanner.Scan(
		&a.ID,
		&a.ExamID,
		&a.StudentID,
		&a.Ordinal,
		&status,
		&a.StartedAt,
		&a.ExpiresAt,
		&submittedAt,
		&gradedAt,
		&orderJSON,
		&answersJSON,
		&resultsJSON,
		&score,
		&a.MaxScore,
		&a.Feedback,
		&gradedBy,
	); err != nil {
		return nil, err
	}
	a.Status = AttemptStatus(status)
	a.SubmittedAt = timePtr(submittedAt)
	a.GradedAt = timePtr(gradedAt)
	a.GradedBy = gradedBy.Int64
	if score.Valid {
		v := int(score.Int64)
		a.Score = &v
	}
	a.QuestionOrder = []int64{}
	a.Answers = map[int64]Answer{}
	if err := decodeJSONColumn(orderJSON, &a.QuestionOrder); err != nil {
		return nil, fmt.Errorf("decode question order: %w", err)
	}
	if err := decodeJSONColumn(answersJSON, &a.Answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	if resultsJSON != "" && resultsJSON != "{}" {
		a.Results = map[int64]QuestionResult{}
		if err := json.Unmarshal([]byte(resultsJSON), &a.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	return &a, nil
}

type attemptColumns struct {
	order   string
	answers string
	results string
}

func encodeAttempt(a Attempt) (attemptColumns, error) {
	var cols attemptColumns
	order := a.QuestionOrder
	if order == nil {
		order = []int64{}
	}
	b, err := json.Marshal(order)
	if err != nil {
		return cols, fmt.Errorf("encode question order: %w", err)
	}
	cols.order = string(b)

	answers := a.Answers
	if answers == nil {
		answers = map[int64]Answer{}
	}
	if b, err = json.Marshal(answers); err != nil {
		return cols, fmt.Errorf("encode answers: %w", err)
	}
	cols.answers = string(b)

	results := a.Results
	if results == nil {
		results = map[int64]QuestionResult{}
	}
	if b, err = json.Marshal(results); err != nil {
		return cols, fmt.Errorf("encode results: %w", err)
	}
	cols.results = string(b)
	return cols, nil
}

func decodeJSONColumn(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullScore(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}
