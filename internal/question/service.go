package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrQuestionNotFound = errors.New("question not found")
)

type Service struct {
	db  *sql.DB
	now func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// WithClock replaces the time source used for created/updated stamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) CreateQuestion(ctx context.Context, in Input) (*Question, error) {
	q, err := New(in)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now

	optionsJSON, correctJSON, tagsJSON, err := encodeQuestionLists(q)
	if err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO questions (
			question_text,
			question_type,
			options_json,
			correct_json,
			points,
			subject,
			difficulty,
			tags_json,
			explanation,
			version,
			created_by,
			created_at,
			updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id
	`, q.Text, string(q.Type), optionsJSON, correctJSON, q.Points, q.Subject, string(q.Difficulty),
		tagsJSON, q.Explanation, q.Version, nullableID(q.CreatedBy), q.CreatedAt, q.UpdatedAt).Scan(&q.ID); err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return &q, nil
}

// UpdateQuestion stores the next version of a question. Exams keep their own
// snapshot, so published exams are unaffected.
func (s *Service) UpdateQuestion(ctx context.Context, id int64, in Input) (*Question, error) {
	cur, err := s.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Revise(*cur, in)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = s.now().UTC()

	optionsJSON, correctJSON, tagsJSON, err := encodeQuestionLists(next)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE questions
		SET question_text = $2,
			question_type = $3,
			options_json = $4,
			correct_json = $5,
			points = $6,
			subject = $7,
			difficulty = $8,
			tags_json = $9,
			explanation = $10,
			version = $11,
			updated_at = $12
		WHERE id = $1 AND version = $13
	`, id, next.Text, string(next.Type), optionsJSON, correctJSON, next.Points, next.Subject,
		string(next.Difficulty), tagsJSON, next.Explanation, next.Version, next.UpdatedAt, cur.Version)
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("update question %d: version %d is stale", id, cur.Version)
	}
	return &next, nil
}

// DeleteQuestion removes a bank question. Exams that already include it keep
// their snapshot.
func (s *Service) DeleteQuestion(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

func (s *Service) GetQuestion(ctx context.Context, id int64) (*Question, error) {
	row := s.db.QueryRowContext(ctx, selectQuestionSQL+` WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}

// GetQuestions loads the given ids in the requested order.
func (s *Service) GetQuestions(ctx context.Context, ids []int64) ([]Question, error) {
	out := make([]Question, 0, len(ids))
	for _, id := range ids {
		q, err := s.GetQuestion(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", id, err)
		}
		out = append(out, *q)
	}
	return out, nil
}

func (s *Service) ListQuestions(ctx context.Context, f Filter) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, selectQuestionSQL+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return FilterQuestions(items, f), nil
}

func (s *Service) ListSubjects(ctx context.Context) ([]string, error) {
	items, err := s.ListQuestions(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	return Subjects(items), nil
}

// CountQuestions counts bank questions, only those authored by createdBy when
// it is set.
func (s *Service) CountQuestions(ctx context.Context, createdBy int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM questions
		WHERE (CAST($1 AS BIGINT) = 0 OR created_by = $1)
	`, createdBy).Scan(&n); err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}

const selectQuestionSQL = `
	SELECT
		id,
		question_text,
		question_type,
		options_json,
		correct_json,
		points,
		subject,
		difficulty,
		tags_json,
		explanation,
		version,
		created_by,
		created_at,
		updated_at
	FROM questions`

func scanQuestion(scanner interface{ Scan(dest ...any) error }) (*Question, error) {
	var (
		q           Question
		qType       string
		difficulty  string
		optionsJSON string
		correctJSON string
		tagsJSON    string
		createdBy   sql.NullInt64
	)
	if err := scanner.Scan(
		&q.ID,
		&q.Text,
		&qType,
		&optionsJSON,
		&correctJSON,
		&q.Points,
		&q.Subject,
		&difficulty,
		&tagsJSON,
		&q.Explanation,
		&q.Version,
		&createdBy,
		&q.CreatedAt,
		&q.UpdatedAt,
	); err != nil {
		return nil, err
	}
	q.Type = Type(qType)
	q.Difficulty = Difficulty(difficulty)
	if createdBy.Valid {
		q.CreatedBy = createdBy.Int64
	}
	if err := decodeList(optionsJSON, &q.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := decodeList(correctJSON, &q.CorrectAnswers); err != nil {
		return nil, fmt.Errorf("decode correct answers: %w", err)
	}
	if err := decodeList(tagsJSON, &q.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return &q, nil
}

func encodeQuestionLists(q Question) (string, string, string, error) {
	options, err := json.Marshal(nonNil(q.Options))
	if err != nil {
		return "", "", "", fmt.Errorf("encode options: %w", err)
	}
	correct, err := json.Marshal(nonNil(q.CorrectAnswers))
	if err != nil {
		return "", "", "", fmt.Errorf("encode correct answers: %w", err)
	}
	tags, err := json.Marshal(nonNil(q.Tags))
	if err != nil {
		return "", "", "", fmt.Errorf("encode tags: %w", err)
	}
	return string(options), string(correct), string(tags), nil
}

func decodeList(raw string, dst *[]string) error {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return err
	}
	if len(out) > 0 {
		*dst = out
	}
	return nil
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
