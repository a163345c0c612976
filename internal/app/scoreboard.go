package app

import (
	"sort"

	"trivia-sync-service/internal/domain"
)

// RankGlobal ranks players that answered at least once by accuracy, then correct
// answers, then alias and id so the order is total.
func RankGlobal(players []domain.Player) []domain.ScoreboardEntry {
	entries := make([]domain.ScoreboardEntry, 0, len(players))
	for _, p := range players {
		if p.TotalQuestionsAnswered < 1 {
			continue
		}
		entries = append(entries, entryFor(p.ID, p.Alias, p.TotalCorrectAnswers, p.TotalQuestionsAnswered))
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if c := compareAccuracy(a, b); c != 0 {
			return c > 0
		}
		if a.TotalCorrectAnswers != b.TotalCorrectAnswers {
			return a.TotalCorrectAnswers > b.TotalCorrectAnswers
		}
		return lessByName(a, b)
	})
	return assignRanks(entries)
}

// RankSession groups a session's answers by player and ranks by correct answers, then
// accuracy. aliases maps player id to the alias shown; missing ids fall back to the id.
func RankSession(answers []domain.Answer, aliases map[string]string) []domain.ScoreboardEntry {
	type tally struct{ correct, total int }
	byPlayer := make(map[string]*tally)
	for _, a := range answers {
		t, ok := byPlayer[a.PlayerID]
		if !ok {
			t = &tally{}
			byPlayer[a.PlayerID] = t
		}
		t.total++
		if a.IsCorrect {
			t.correct++
		}
	}

	entries := make([]domain.ScoreboardEntry, 0, len(byPlayer))
	for id, t := range byPlayer {
		alias, ok := aliases[id]
		if !ok {
			alias = id
		}
		entries = append(entries, entryFor(id, alias, t.correct, t.total))
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.TotalCorrectAnswers != b.TotalCorrectAnswers {
			return a.TotalCorrectAnswers > b.TotalCorrectAnswers
		}
		if c := compareAccuracy(a, b); c != 0 {
			return c > 0
		}
		return lessByName(a, b)
	})
	return assignRanks(entries)
}

func entryFor(id, alias string, correct, total int) domain.ScoreboardEntry {
	return domain.ScoreboardEntry{
		PlayerID:               id,
		Alias:                  alias,
		TotalQuestionsAnswered: total,
		TotalCorrectAnswers:    correct,
		Accuracy:               domain.Accuracy(correct, total),
	}
}

// compareAccuracy compares correct/total exactly; zero totals count as 0%.
func compareAccuracy(a, b domain.ScoreboardEntry) int {
	at, bt := int64(a.TotalQuestionsAnswered), int64(b.TotalQuestionsAnswered)
	ac, bc := int64(a.TotalCorrectAnswers), int64(b.TotalCorrectAnswers)
	if at == 0 {
		ac, at = 0, 1
	}
	if bt == 0 {
		bc, bt = 0, 1
	}
	l, r := ac*bt, bc*at
	switch {
	case l > r:
		return 1
	case l < r:
		return -1
	}
	return 0
}

func lessByName(a, b domain.ScoreboardEntry) bool {
	if a.Alias != b.Alias {
		return a.Alias < b.Alias
	}
	return a.PlayerID < b.PlayerID
}

func assignRanks(entries []domain.ScoreboardEntry) []domain.ScoreboardEntry {
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// ComputeDistribution tallies answers to q over its four options in canonical order
// (correct first). Answers to other questions are ignored; Total counts every answer
// to q.
func ComputeDistribution(sessionID string, q domain.Question, answers []domain.Answer) domain.Distribution {
	dist := domain.Distribution{SessionID: sessionID, QuestionID: q.ID}
	opts := q.Options()
	for i, opt := range opts {
		dist.Options[i].Answer = opt
	}
	for _, a := range answers {
		if a.QuestionID != q.ID {
			continue
		}
		dist.Total++
		for i, opt := range opts {
			if a.SelectedAnswer == opt {
				dist.Options[i].Count++
				break
			}
		}
	}
	if dist.Total > 0 {
		for i := range dist.Options {
			dist.Options[i].Percentage = float64(dist.Options[i].Count) / float64(dist.Total) * 100
		}
	}
	return dist
}
