package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"trivia-sync-service/internal/app"
	"trivia-sync-service/internal/domain"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	bumpVersion = "version = nextval('row_versions')"
)

// Store implements app.Store on Postgres through bun. Multi-row writes run in one
// transaction; start and advance are single conditional UPDATEs.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

var _ app.Store = (*Store)(nil)

func (s *Store) CreatePlayer(ctx context.Context, p domain.Player) (domain.Player, error) {
	row := newPlayerRow(p)
	row.ID = newID(row.ID)
	if _, err := s.db.NewInsert().Model(row).Returning("*").Exec(ctx); err != nil {
		if pgCode(err) == pgUniqueViolation {
			return domain.Player{}, domain.ErrAliasTaken
		}
		return domain.Player{}, unavailable("insert player", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetPlayer(ctx context.Context, id string) (domain.Player, error) {
	row := new(playerRow)
	err := s.db.NewSelect().Model(row).Where("p.id = ?", id).Scan(ctx)
	if err != nil {
		return domain.Player{}, lookupErr("select player", err, domain.ErrPlayerNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) GetPlayerByAlias(ctx context.Context, alias string) (domain.Player, error) {
	row := new(playerRow)
	err := s.db.NewSelect().Model(row).Where("lower(p.alias) = ?", domain.NormalizeAlias(alias)).Scan(ctx)
	if err != nil {
		return domain.Player{}, lookupErr("select player by alias", err, domain.ErrPlayerNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) ListAnsweringPlayers(ctx context.Context) ([]domain.Player, error) {
	var rows []playerRow
	if err := s.db.NewSelect().Model(&rows).Where("p.total_questions_answered >= 1").Scan(ctx); err != nil {
		return nil, unavailable("list players", err)
	}
	out := make([]domain.Player, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) CreateQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	row := newQuestionRow(q)
	row.ID = newID(row.ID)
	if _, err := s.db.NewInsert().Model(row).Returning("*").Exec(ctx); err != nil {
		return domain.Question{}, unavailable("insert question", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	row := new(questionRow)
	if err := s.db.NewSelect().Model(row).Where("q.id = ?", id).Scan(ctx); err != nil {
		return domain.Question{}, lookupErr("select question", err, domain.ErrQuestionNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) ListQuestions(ctx context.Context, filter app.QuestionFilter) ([]domain.Question, error) {
	var rows []questionRow
	q := s.db.NewSelect().Model(&rows).OrderExpr("q.created_at ASC, q.id ASC")
	applyQuestionFilter(q, filter)
	if err := q.Scan(ctx); err != nil {
		return nil, unavailable("list questions", err)
	}
	out := make([]domain.Question, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) CountQuestions(ctx context.Context, filter app.QuestionFilter) (int, error) {
	q := s.db.NewSelect().Model((*questionRow)(nil))
	applyQuestionFilter(q, filter)
	n, err := q.Count(ctx)
	if err != nil {
		return 0, unavailable("count questions", err)
	}
	return n, nil
}

func applyQuestionFilter(q *bun.SelectQuery, filter app.QuestionFilter) {
	if filter.ExcludeFlagged {
		q.Where("NOT q.flagged")
	}
	if len(filter.Tags) > 0 {
		q.Where("q.tags @> ?", pgdialect.Array(filter.Tags))
	}
}

func (s *Store) FlagQuestion(ctx context.Context, id, reason string) (domain.Question, error) {
	row := &questionRow{ID: id}
	res, err := s.db.NewUpdate().Model(row).
		Set("flagged = TRUE").
		Set("flag_reason = ?", reason).
		Set(bumpVersion).
		WherePK().
		Where("NOT q.flagged").
		Returning("*").
		Exec(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Question{}, unavailable("flag question", err)
	}
	if affected(res) == 0 {
		// already flagged or missing; flagging is one-way so the stored row wins
		return s.GetQuestion(ctx, id)
	}
	return row.toDomain(), nil
}

func (s *Store) CreateSession(ctx context.Context, sess domain.QuizSession) (domain.QuizSession, error) {
	row := newSessionRow(sess)
	row.ID = newID(row.ID)
	if _, err := s.db.NewInsert().Model(row).Returning("*").Exec(ctx); err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return domain.QuizSession{}, domain.ErrDuplicateLobbyCode
		case pgForeignKeyViolation:
			return domain.QuizSession{}, domain.ErrPlayerNotFound
		}
		return domain.QuizSession{}, unavailable("insert session", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.QuizSession, error) {
	return getSession(ctx, s.db, id, "")
}

// getSession optionally row-locks the session ("UPDATE", "SHARE") inside a transaction.
func getSession(ctx context.Context, db bun.IDB, id, lock string) (domain.QuizSession, error) {
	row := new(sessionRow)
	q := db.NewSelect().Model(row).Where("s.id = ?", id)
	if lock != "" {
		q.For(lock)
	}
	if err := q.Scan(ctx); err != nil {
		return domain.QuizSession{}, lookupErr("select session", err, domain.ErrSessionNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (domain.QuizSession, error) {
	row := new(sessionRow)
	err := s.db.NewSelect().Model(row).Where("s.lobby_code = ?", domain.NormalizeLobbyCode(code)).Scan(ctx)
	if err != nil {
		return domain.QuizSession{}, lookupErr("select session by code", err, domain.ErrSessionNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) ListWaitingSessions(ctx context.Context, createdBefore time.Time) ([]domain.QuizSession, error) {
	var rows []sessionRow
	err := s.db.NewSelect().Model(&rows).
		Where("s.status = ?", string(domain.StatusWaiting)).
		Where("s.created_at < ?", createdBefore).
		OrderExpr("s.created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, unavailable("list waiting sessions", err)
	}
	out := make([]domain.QuizSession, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) StartSession(ctx context.Context, id string, questionIDs []string, startedAt time.Time) (domain.QuizSession, error) {
	row := &sessionRow{ID: id}
	res, err := s.db.NewUpdate().Model(row).
		Set("status = ?", string(domain.StatusInProgress)).
		Set("question_ids = ?", pgdialect.Array(questionIDs)).
		Set("current_question_index = 0").
		Set("started_at = ?", startedAt).
		Set(bumpVersion).
		WherePK().
		Where("s.status = ?", string(domain.StatusWaiting)).
		Returning("*").
		Exec(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.QuizSession{}, unavailable("start session", err)
	}
	if affected(res) == 0 {
		if _, err := s.GetSession(ctx, id); err != nil {
			return domain.QuizSession{}, err
		}
		return domain.QuizSession{}, domain.ErrInvalidTransition
	}
	return row.toDomain(), nil
}

func (s *Store) AdvanceSession(ctx context.Context, id string, expectedIndex int, now time.Time) (domain.QuizSession, error) {
	row := &sessionRow{ID: id}
	res, err := s.db.NewUpdate().Model(row).
		Set("current_question_index = s.current_question_index + 1").
		Set("status = CASE WHEN s.current_question_index + 1 >= cardinality(s.question_ids) THEN ? ELSE s.status END",
			string(domain.StatusCompleted)).
		Set("ended_at = CASE WHEN s.current_question_index + 1 >= cardinality(s.question_ids) THEN ? ELSE s.ended_at END",
			now).
		Set(bumpVersion).
		WherePK().
		Where("s.status = ?", string(domain.StatusInProgress)).
		Where("s.current_question_index = ?", expectedIndex).
		Returning("*").
		Exec(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.QuizSession{}, unavailable("advance session", err)
	}
	if affected(res) > 0 {
		return row.toDomain(), nil
	}

	current, err := s.GetSession(ctx, id)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if current.Status != domain.StatusInProgress {
		return domain.QuizSession{}, domain.ErrInvalidTransition
	}
	return domain.QuizSession{}, domain.ErrAdvanceConflict
}

func (s *Store) CancelSession(ctx context.Context, id string, only ...domain.SessionStatus) (app.CancelResult, error) {
	var result app.CancelResult
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		sess, err := getSession(ctx, tx, id, "UPDATE")
		if err != nil {
			return err
		}
		if !sess.Status.Cancellable(only...) {
			return domain.ErrInvalidTransition
		}
		result = app.CancelResult{Session: sess}

		var answers []answerRow
		if _, err := tx.NewDelete().Model(&answers).
			Where("quiz_session_id = ?", id).
			Returning("*").
			Exec(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return unavailable("delete answers", err)
		}

		type delta struct{ answered, correct int }
		deltas := make(map[string]*delta)
		for _, a := range answers {
			result.Answers = append(result.Answers, a.toDomain())
			d := deltas[a.PlayerID]
			if d == nil {
				d = &delta{}
				deltas[a.PlayerID] = d
			}
			d.answered++
			if a.IsCorrect {
				d.correct++
			}
		}

		playerIDs := make([]string, 0, len(deltas))
		for pid := range deltas {
			playerIDs = append(playerIDs, pid)
		}
		sort.Strings(playerIDs)
		for _, pid := range playerIDs {
			d := deltas[pid]
			row := &playerRow{ID: pid}
			res, err := tx.NewUpdate().Model(row).
				Set("total_questions_answered = GREATEST(0, p.total_questions_answered - ?)", d.answered).
				Set("total_correct_answers = LEAST(GREATEST(0, p.total_questions_answered - ?), GREATEST(0, p.total_correct_answers - ?))",
					d.answered, d.correct).
				Set(bumpVersion).
				WherePK().
				Returning("*").
				Exec(ctx)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return unavailable("roll back player totals", err)
			}
			if affected(res) > 0 {
				result.Players = append(result.Players, row.toDomain())
			}
		}

		var participants []participantRow
		if _, err := tx.NewDelete().Model(&participants).
			Where("quiz_session_id = ?", id).
			Returning("*").
			Exec(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return unavailable("delete participants", err)
		}
		for _, p := range participants {
			result.Participants = append(result.Participants, p.toDomain())
		}

		if _, err := tx.NewDelete().Model((*sessionRow)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
			return unavailable("delete session", err)
		}
		return nil
	})
	if err != nil {
		return app.CancelResult{}, err
	}
	return result, nil
}

func (s *Store) CreateParticipant(ctx context.Context, p domain.QuizParticipant) (domain.QuizParticipant, error) {
	row := newParticipantRow(p)
	row.ID = newID(row.ID)
	if _, err := s.db.NewInsert().Model(row).Returning("*").Exec(ctx); err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return domain.QuizParticipant{}, domain.ErrDuplicateParticipant
		case pgForeignKeyViolation:
			return domain.QuizParticipant{}, domain.ErrSessionNotFound
		}
		return domain.QuizParticipant{}, unavailable("insert participant", err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetParticipant(ctx context.Context, sessionID, playerID string) (domain.QuizParticipant, error) {
	row := new(participantRow)
	err := s.db.NewSelect().Model(row).
		Where("qp.quiz_session_id = ?", sessionID).
		Where("qp.player_id = ?", playerID).
		Scan(ctx)
	if err != nil {
		return domain.QuizParticipant{}, lookupErr("select participant", err, domain.ErrParticipantNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]domain.QuizParticipant, error) {
	var rows []participantRow
	err := s.db.NewSelect().Model(&rows).
		Where("qp.quiz_session_id = ?", sessionID).
		OrderExpr("qp.joined_at ASC, qp.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, unavailable("list participants", err)
	}
	out := make([]domain.QuizParticipant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) RecordAnswer(ctx context.Context, a domain.Answer) (domain.Answer, domain.Player, error) {
	var (
		answer domain.Answer
		player domain.Player
	)
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		// a concurrent cancel must not delete the session under this answer
		if _, err := getSession(ctx, tx, a.QuizSessionID, "SHARE"); err != nil {
			return err
		}

		row := newAnswerRow(a)
		row.ID = newID(row.ID)
		if _, err := tx.NewInsert().Model(row).Returning("*").Exec(ctx); err != nil {
			switch pgCode(err) {
			case pgUniqueViolation:
				return domain.ErrDuplicateSubmission
			case pgForeignKeyViolation:
				if pgConstraint(err) == "answers_question_id_fkey" {
					return domain.ErrQuestionNotFound
				}
				return domain.ErrPlayerNotFound
			}
			return unavailable("insert answer", err)
		}
		answer = row.toDomain()

		correct := 0
		if a.IsCorrect {
			correct = 1
		}
		prow := &playerRow{ID: a.PlayerID}
		res, err := tx.NewUpdate().Model(prow).
			Set("total_questions_answered = p.total_questions_answered + 1").
			Set("total_correct_answers = p.total_correct_answers + ?", correct).
			Set(bumpVersion).
			WherePK().
			Returning("*").
			Exec(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return unavailable("bump player totals", err)
		}
		if affected(res) == 0 {
			return domain.ErrPlayerNotFound
		}
		player = prow.toDomain()
		return nil
	})
	if err != nil {
		return domain.Answer{}, domain.Player{}, err
	}
	return answer, player, nil
}

func (s *Store) GetAnswer(ctx context.Context, sessionID, questionID, playerID string) (domain.Answer, error) {
	row := new(answerRow)
	err := s.db.NewSelect().Model(row).
		Where("a.quiz_session_id = ?", sessionID).
		Where("a.question_id = ?", questionID).
		Where("a.player_id = ?", playerID).
		Scan(ctx)
	if err != nil {
		return domain.Answer{}, lookupErr("select answer", err, domain.ErrAnswerNotFound)
	}
	return row.toDomain(), nil
}

func (s *Store) ListAnswers(ctx context.Context, sessionID, questionID string) ([]domain.Answer, error) {
	var rows []answerRow
	q := s.db.NewSelect().Model(&rows).Where("a.quiz_session_id = ?", sessionID).OrderExpr("a.version ASC")
	if questionID != "" {
		q.Where("a.question_id = ?", questionID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, unavailable("list answers", err)
	}
	out := make([]domain.Answer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func pgCode(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}

func pgConstraint(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('n')
	}
	return ""
}

func lookupErr(op string, err, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return unavailable(op, err)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

func affected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
