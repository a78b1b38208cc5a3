package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-client/internal/model"
)

// ErrResultNotFound is returned when no archived result matches.
var ErrResultNotFound = errors.New("archived result not found")

// ResultRepository archives completed exam results in PostgreSQL.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Save stores the result and one row per question in a single transaction.
// Saving the same session twice is a no-op.
func (r *ResultRepository) Save(ctx context.Context, rec *model.ArchiveRecord) error {
	if rec == nil || rec.Exam == nil || rec.Result == nil {
		return errors.New("archive record is incomplete")
	}
	res := rec.Result.Result

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer tx.Rollback(ctx)

	badges := rec.Result.NewBadges
	if badges == nil {
		badges = []string{}
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO exam_results
		   (session_id, subject, score, total_questions, correct_answers, incorrect_answers,
		    time_taken_minutes, time_limit_minutes, new_badges, started_at, completed_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (session_id) DO NOTHING`,
		rec.Exam.SessionID, rec.Subject, res.Score, len(rec.Exam.Questions),
		res.CorrectAnswers, res.IncorrectAnswers, res.TimeTakenMinutes,
		rec.Exam.TimeLimitMinutes, badges, rec.Exam.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert exam result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	rows := answerRows(rec)
	if len(rows) > 0 {
		_, err = tx.CopyFrom(
			ctx,
			pgx.Identifier{"exam_result_answers"},
			[]string{"session_id", "question_id", "position", "selected_option", "user_answer", "correct_answer", "is_correct"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy result answers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit archive tx: %w", err)
	}
	return nil
}

// answerRows joins the graded outcomes with the locally selected options, in
// question order.
func answerRows(rec *model.ArchiveRecord) [][]interface{} {
	outcomes := make(map[string]model.QuestionOutcome, len(rec.Result.Result.DetailedResults))
	for _, o := range rec.Result.Result.DetailedResults {
		outcomes[o.QuestionID] = o
	}

	rows := make([][]interface{}, 0, len(rec.Exam.Questions))
	for i, q := range rec.Exam.Questions {
		o, graded := outcomes[q.ID]
		if !graded {
			continue
		}

		var selected *int
		if opt, ok := rec.Answers[q.ID]; ok {
			selected = &opt
		}

		rows = append(rows, []interface{}{
			rec.Exam.SessionID, q.ID, i, selected, o.UserAnswer, o.CorrectAnswer, o.IsCorrect,
		})
	}
	return rows
}

// Get retrieves one archived result by session id.
func (r *ResultRepository) Get(ctx context.Context, sessionID string) (*model.ArchivedResult, error) {
	a := &model.ArchivedResult{}
	err := r.pool.QueryRow(ctx,
		`SELECT session_id, COALESCE(subject, ''), score, total_questions, correct_answers,
		        incorrect_answers, time_taken_minutes, time_limit_minutes, new_badges,
		        started_at, completed_at
		 FROM exam_results
		 WHERE session_id = $1`, sessionID,
	).Scan(&a.SessionID, &a.Subject, &a.Score, &a.TotalQuestions, &a.CorrectAnswers,
		&a.IncorrectAnswers, &a.TimeTakenMinutes, &a.TimeLimitMinutes, &a.NewBadges,
		&a.StartedAt, &a.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListRecent returns subject's latest archived results, newest first. Results
// archived without a subject are never listed.
func (r *ResultRepository) ListRecent(ctx context.Context, subject string, limit int) ([]model.ArchivedResult, error) {
	if subject == "" {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT session_id, COALESCE(subject, ''), score, total_questions, correct_answers,
		        incorrect_answers, time_taken_minutes, time_limit_minutes, new_badges,
		        started_at, completed_at
		 FROM exam_results
		 WHERE subject = $1
		 ORDER BY completed_at DESC
		 LIMIT $2`, subject, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.ArchivedResult
	for rows.Next() {
		var a model.ArchivedResult
		if err := rows.Scan(&a.SessionID, &a.Subject, &a.Score, &a.TotalQuestions, &a.CorrectAnswers,
			&a.IncorrectAnswers, &a.TimeTakenMinutes, &a.TimeLimitMinutes, &a.NewBadges,
			&a.StartedAt, &a.CompletedAt); err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}
