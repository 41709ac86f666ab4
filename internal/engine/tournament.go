// File: internal/engine/tournament.go
// Description: The pairwise elimination engine. Per direction it builds a
// single-elimination bracket in deterministic seed order, obtains one
// Comparison per pair through the call layer, and applies Elo updates. The
// exchange is zero-sum: the winner's gain equals the loser's loss exactly.
// The same engine runs the evolution tournament, restricted to evolved
// scenarios.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/crucible/api/schemas"
)

const eloK = 32.0

// eloExpected is the winner's expected score before the match.
func eloExpected(winnerRating, loserRating float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (loserRating-winnerRating)/400.0))
}

// eloDelta is the rating exchanged after a match: winner +delta, loser -delta.
func eloDelta(winnerRating, loserRating float64) float64 {
	return eloK * (1.0 - eloExpected(winnerRating, loserRating))
}

type pairResult struct {
	pairIndex  int
	comparison schemas.Comparison
	err        error
}

func (m *Machine) runTournament(ctx context.Context, r *run, evolved bool) ([]Update, schemas.PhaseStatistics, error) {
	ratings := make(map[schemas.ScenarioID]float64, len(r.state.Ratings))
	for id, v := range r.state.Ratings {
		ratings[id] = v
	}
	winners := make(map[int]schemas.ScenarioID, len(r.state.Winners))
	for idx, id := range r.state.Winners {
		winners[idx] = id
	}

	stats := schemas.PhaseStatistics{}
	var updates []Update
	var comparisons []any
	var warnings []any

	for _, dirIdx := range r.state.SurvivingDirections() {
		contenders := r.state.ScenariosForDirection(dirIdx, evolved)
		if len(contenders) == 0 {
			// The evolution tournament keeps the pre-evolution winner for
			// directions that produced no evolved scenarios.
			continue
		}
		for _, sc := range contenders {
			if _, ok := ratings[sc.ID]; !ok {
				ratings[sc.ID] = InitialRating
			}
		}

		winner, dirComparisons, dirWarnings, dirStats := m.runBracket(ctx, r, dirIdx, contenders, ratings)
		winners[dirIdx] = winner
		comparisons = append(comparisons, dirComparisons...)
		warnings = append(warnings, dirWarnings...)
		stats.Dispatched += dirStats.Dispatched
		stats.Succeeded += dirStats.Succeeded
		stats.Failed += dirStats.Failed
	}

	updates = append(updates,
		Append(FieldComparisons, comparisons...),
		Override(FieldRatings, ratings),
		Override(FieldWinners, winners),
	)
	if len(warnings) > 0 {
		updates = append(updates, Append(FieldWarnings, warnings...))
	}
	return updates, stats, nil
}

// runBracket plays rounds until one scenario remains or the round cap hits.
// Comparisons within a round run concurrently (pairs are disjoint); rating
// updates are applied sequentially in pair order once the round drains.
func (m *Machine) runBracket(ctx context.Context, r *run, dirIdx int, contenders []schemas.Scenario, ratings map[schemas.ScenarioID]float64) (schemas.ScenarioID, []any, []any, schemas.PhaseStatistics) {
	stats := schemas.PhaseStatistics{}
	var comparisons []any
	var warnings []any

	direction := r.state.Directions[dirIdx]
	remaining := contenders
	round := 0

	for len(remaining) > 1 {
		round++
		if round > m.cfg.Engine.TournamentRounds {
			winner := highestRated(remaining, ratings)
			warnings = append(warnings, fmt.Sprintf(
				"direction %d hit the %d-round cap with %d scenarios left; %s wins by rating",
				dirIdx, m.cfg.Engine.TournamentRounds, len(remaining), winner))
			return winner, comparisons, warnings, stats
		}

		type pair struct{ a, b schemas.Scenario }
		var pairs []pair
		var next []schemas.Scenario
		for i := 0; i+1 < len(remaining); i += 2 {
			pairs = append(pairs, pair{a: remaining[i], b: remaining[i+1]})
		}
		if len(remaining)%2 == 1 {
			// Bye: the odd one out advances without a rating change.
			next = append(next, remaining[len(remaining)-1])
		}

		results := make([]pairResult, len(pairs))
		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.resolved.concurrency)
		for i, p := range pairs {
			i, p := i, p
			g.Go(func() error {
				cmp, err := m.compareScenarios(gctx, r, direction, round, p.a, p.b)
				mu.Lock()
				results[i] = pairResult{pairIndex: i, comparison: cmp, err: err}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		for i, res := range results {
			stats.Dispatched++
			p := pairs[i]
			if res.err != nil {
				stats.Failed++
				// No verdict: the higher-rated contender advances without a
				// rating exchange.
				fallback := p.a
				if ratings[p.b.ID] > ratings[p.a.ID] {
					fallback = p.b
				}
				warnings = append(warnings, fmt.Sprintf(
					"direction %d round %d: comparison %s vs %s failed (%v); %s advances by rating",
					dirIdx, round, p.a.ID, p.b.ID, res.err, fallback.ID))
				next = append(next, fallback)
				continue
			}
			stats.Succeeded++

			cmp := res.comparison
			winner, loser := p.a, p.b
			if cmp.WinnerID == p.b.ID {
				winner, loser = p.b, p.a
			}
			delta := eloDelta(ratings[winner.ID], ratings[loser.ID])
			ratings[winner.ID] += delta
			ratings[loser.ID] -= delta

			m.logger.Debug("Comparison decided",
				zap.Int("direction", dirIdx),
				zap.Int("round", round),
				zap.String("winner", string(winner.ID)),
				zap.Float64("delta", delta),
			)

			comparisons = append(comparisons, cmp)
			next = append(next, winner)
		}

		remaining = next
	}

	return remaining[0].ID, comparisons, warnings, stats
}

func (m *Machine) compareScenarios(ctx context.Context, r *run, direction schemas.ResearchDirection, round int, a, b schemas.Scenario) (schemas.Comparison, error) {
	prompt, err := m.prompts.Render(schemas.PhaseTournament, map[string]any{
		"TaskDescription": r.state.Input.TaskDescription,
		"DirectionName":   direction.Name,
		"ScenarioA":       a.Content,
		"ScenarioB":       b.Content,
	})
	if err != nil {
		return schemas.Comparison{}, err
	}

	text, err := m.invoker.Call(ctx, m.request(r, prompt, true))
	if err != nil {
		return schemas.Comparison{}, err
	}

	verdict, err := parseVerdict(text)
	if err != nil {
		return schemas.Comparison{}, err
	}

	winnerID := a.ID
	if verdict.Winner == "B" {
		winnerID = b.ID
	}
	return schemas.Comparison{
		Round:          round,
		DirectionIndex: direction.Index,
		ScenarioA:      a.ID,
		ScenarioB:      b.ID,
		WinnerID:       winnerID,
		Reasoning:      verdict.Reasoning,
		CriteriaScores: verdict.CriteriaScores,
	}, nil
}

// highestRated breaks rating ties by seed order, which is already
// deterministic.
func highestRated(scenarios []schemas.Scenario, ratings map[schemas.ScenarioID]float64) schemas.ScenarioID {
	best := scenarios[0]
	for _, sc := range scenarios[1:] {
		if ratings[sc.ID] > ratings[best.ID] {
			best = sc
		}
	}
	return best.ID
}
