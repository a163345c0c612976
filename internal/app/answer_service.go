package app

import (
	"context"
	"time"

	"trivia-sync-service/internal/domain"

	"github.com/sirupsen/logrus"
)

// AnswerService records answers and derives distributions and scoreboards.
type AnswerService struct {
	store     Store
	questions QuestionRepository
	pub       publisher
	opts      options
}

func NewAnswerService(store Store, questions QuestionRepository, bus Bus, opts ...Option) *AnswerService {
	o := buildOptions(opts)
	return &AnswerService{
		store:     store,
		questions: questions,
		pub:       publisher{bus: bus, log: o.log},
		opts:      o,
	}
}

// Submit records a player's answer and bumps their totals in one write. A second
// answer to the same question fails with domain.ErrDuplicateSubmission.
func (s *AnswerService) Submit(ctx context.Context, in SubmitAnswerInput) (answer domain.Answer, player domain.Player, err error) {
	defer observe(s.opts.observer, "submit_answer", time.Now(), &err)

	if err := validateInput(in); err != nil {
		return domain.Answer{}, domain.Player{}, err
	}
	session, err := s.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return domain.Answer{}, domain.Player{}, err
	}
	if session.Status != domain.StatusInProgress {
		return domain.Answer{}, domain.Player{}, domain.ErrInvalidTransition
	}
	if !session.ContainsQuestion(in.QuestionID) {
		return domain.Answer{}, domain.Player{}, domain.ErrQuestionNotFound
	}
	if _, err := s.store.GetParticipant(ctx, in.SessionID, in.PlayerID); err != nil {
		return domain.Answer{}, domain.Player{}, err
	}

	answer, player, err = s.store.RecordAnswer(ctx, domain.Answer{
		QuizSessionID:  in.SessionID,
		QuestionID:     in.QuestionID,
		PlayerID:       in.PlayerID,
		SelectedAnswer: in.SelectedAnswer,
		IsCorrect:      in.SelectedAnswer == in.CorrectAnswer,
		AnsweredAt:     s.opts.now(),
	})
	if err != nil {
		return domain.Answer{}, domain.Player{}, err
	}
	s.pub.publish(ctx,
		domain.AnswerEvent(domain.EventInsert, answer),
		domain.PlayerEvent(in.SessionID, domain.EventUpdate, player),
	)
	return answer, player, nil
}

// Distribution tallies the answers to one question of a session. Failures degrade to
// an empty tally and are logged.
func (s *AnswerService) Distribution(ctx context.Context, sessionID, questionID string) domain.Distribution {
	log := s.opts.log.WithFields(logrus.Fields{"session_id": sessionID, "question_id": questionID})
	q, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		log.WithError(err).Warn("distribution: load question")
		return domain.Distribution{SessionID: sessionID, QuestionID: questionID}
	}
	answers, err := s.store.ListAnswers(ctx, sessionID, questionID)
	if err != nil {
		log.WithError(err).Warn("distribution: list answers")
		answers = nil
	}
	return ComputeDistribution(sessionID, q, answers)
}

// GlobalScoreboard ranks every player with at least one answer. Failures degrade to
// an empty board.
func (s *AnswerService) GlobalScoreboard(ctx context.Context) []domain.ScoreboardEntry {
	players, err := s.store.ListAnsweringPlayers(ctx)
	if err != nil {
		s.opts.log.WithError(err).Warn("global scoreboard: list players")
		return []domain.ScoreboardEntry{}
	}
	return RankGlobal(players)
}

// SessionScoreboard ranks the players of one session by their answers in it.
func (s *AnswerService) SessionScoreboard(ctx context.Context, sessionID string) []domain.ScoreboardEntry {
	log := s.opts.log.WithField("session_id", sessionID)
	answers, err := s.store.ListAnswers(ctx, sessionID, "")
	if err != nil {
		log.WithError(err).Warn("session scoreboard: list answers")
		return []domain.ScoreboardEntry{}
	}
	participants, err := s.store.ListParticipants(ctx, sessionID)
	if err != nil {
		log.WithError(err).Warn("session scoreboard: list participants")
	}
	return RankSession(answers, aliasIndex(participants))
}

func aliasIndex(participants []domain.QuizParticipant) map[string]string {
	aliases := make(map[string]string, len(participants))
	for _, p := range participants {
		aliases[p.PlayerID] = p.PlayerAlias
	}
	return aliases
}
