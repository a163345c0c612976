package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"trivia-sync-service/internal/domain"
)

// QuestionService manages the question bank.
type QuestionService struct {
	store     Store
	questions QuestionRepository
	pub       publisher
	opts      options
}

func NewQuestionService(store Store, questions QuestionRepository, bus Bus, opts ...Option) *QuestionService {
	o := buildOptions(opts)
	return &QuestionService{
		store:     store,
		questions: questions,
		pub:       publisher{bus: bus, log: o.log},
		opts:      o,
	}
}

// Submit adds a question with normalized tags.
func (s *QuestionService) Submit(ctx context.Context, in NewQuestionInput) (q domain.Question, err error) {
	defer observe(s.opts.observer, "submit_question", time.Now(), &err)

	in.QuestionText = strings.TrimSpace(in.QuestionText)
	in.CorrectAnswer = strings.TrimSpace(in.CorrectAnswer)
	for i := range in.WrongAnswers {
		in.WrongAnswers[i] = strings.TrimSpace(in.WrongAnswers[i])
	}
	if err := validateInput(in); err != nil {
		return domain.Question{}, err
	}
	if err := distinctOptions(in); err != nil {
		return domain.Question{}, err
	}
	return s.store.CreateQuestion(ctx, domain.Question{
		QuestionText:  in.QuestionText,
		CorrectAnswer: in.CorrectAnswer,
		WrongAnswers:  in.WrongAnswers,
		Tags:          domain.NormalizeTags(in.Tags),
		CreatedAt:     s.opts.now(),
	})
}

// Flag marks a question as flagged; flagged questions are never sampled again.
// When sessionID is set the change is published on that session's topic.
func (s *QuestionService) Flag(ctx context.Context, sessionID, questionID, reason string) (q domain.Question, err error) {
	defer observe(s.opts.observer, "flag_question", time.Now(), &err)

	if questionID == "" {
		return domain.Question{}, fmt.Errorf("%w: question id required", domain.ErrInvalidInput)
	}
	q, err = s.store.FlagQuestion(ctx, questionID, strings.TrimSpace(reason))
	if err != nil {
		return domain.Question{}, err
	}
	if s.questions != nil {
		s.questions.Invalidate(ctx, questionID)
	}
	if sessionID != "" {
		s.pub.publish(ctx, domain.QuestionEvent(sessionID, domain.EventUpdate, q))
	}
	return q, nil
}

// Tags lists every tag in use, sorted.
func (s *QuestionService) Tags(ctx context.Context) ([]string, error) {
	all, err := s.store.ListQuestions(ctx, QuestionFilter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, q := range all {
		for _, t := range q.Tags {
			seen[t] = struct{}{}
		}
	}
	tags := make([]string, 0, len(seen))
	for t := range seen {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags, nil
}

// Count returns how many non-flagged questions carry every tag.
func (s *QuestionService) Count(ctx context.Context, tags []string) (int, error) {
	return s.store.CountQuestions(ctx, QuestionFilter{Tags: domain.NormalizeTags(tags), ExcludeFlagged: true})
}

func (s *QuestionService) Get(ctx context.Context, id string) (domain.Question, error) {
	return s.questions.GetQuestion(ctx, id)
}
