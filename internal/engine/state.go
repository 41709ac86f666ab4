// File: internal/engine/state.go
// Description: The RunState aggregate and its merge semantics. Phase
// executors never mutate state directly; they return tagged updates (Append
// for collections, Override for single-value fields) which the state machine
// folds in after the phase's worker pool has drained. Append folds are
// commutative and associative, so concurrent task results can arrive in any
// order and produce an identical final state.
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/crucible/api/schemas"
)

// InitialRating is every scenario's rating before its first comparison.
const InitialRating = 1500.0

// RunContext carries run-scoped identity: the session id and the jitter RNG
// seed. It is constructed once per run and passed explicitly; there is no
// process-wide run state.
type RunContext struct {
	RunID     string
	Seed      int64
	StartedAt time.Time
}

// NewRunContext creates a fresh run context with a time-derived seed.
func NewRunContext() RunContext {
	now := time.Now()
	return RunContext{
		RunID:     uuid.New().String(),
		Seed:      now.UnixNano(),
		StartedAt: now,
	}
}

// ScenarioIDFor renders the structured (direction, team) identifier.
func ScenarioIDFor(directionIndex, teamIndex int) schemas.ScenarioID {
	return schemas.ScenarioID(fmt.Sprintf("d%d:t%d", directionIndex, teamIndex))
}

// EvolvedIDFor renders the identifier of an evolved scenario.
func EvolvedIDFor(origin schemas.ScenarioID, strategyIndex int) schemas.ScenarioID {
	return schemas.ScenarioID(fmt.Sprintf("%s:e%d", origin, strategyIndex))
}

// Field names state collections and single-value slots for updates.
type Field string

const (
	FieldDirections           Field = "directions"
	FieldScenarios            Field = "scenarios"
	FieldCritiques            Field = "critiques"
	FieldComparisons          Field = "comparisons"
	FieldEvolutions           Field = "evolutions"
	FieldWarnings             Field = "warnings"
	FieldExcludedDirections   Field = "excluded_directions"
	FieldQualityScores        Field = "quality_scores"
	FieldRatings              Field = "ratings"
	FieldWinners              Field = "winners"
	FieldFinalRepresentatives Field = "final_representatives"
	FieldSummary              Field = "summary"
)

// UpdateKind distinguishes the two merge operations.
type UpdateKind int

const (
	KindAppend UpdateKind = iota
	KindOverride
)

// Update is one tagged partial-state change returned by a phase executor.
type Update struct {
	Field Field
	Kind  UpdateKind
	Items []any // Append payload
	Value any   // Override payload
}

// Append builds an order-independent collection update.
func Append(field Field, items ...any) Update {
	return Update{Field: field, Kind: KindAppend, Items: items}
}

// Override builds a wholesale replacement of a single-value field.
func Override(field Field, value any) Update {
	return Update{Field: field, Kind: KindOverride, Value: value}
}

// QualityAssessment is the reflection phase's verdict for one scenario.
type QualityAssessment struct {
	Score   float64
	Flagged bool
}

// RunState is the aggregate root for one tournament run. It is owned
// exclusively by the state machine and discarded at run completion.
type RunState struct {
	RunID string
	Input schemas.RunInput

	Directions  map[int]schemas.ResearchDirection
	Scenarios   map[schemas.ScenarioID]schemas.Scenario
	Critiques   map[string]schemas.Critique
	Comparisons []schemas.Comparison
	Evolutions  map[string]schemas.EvolutionResult
	Ratings     map[schemas.ScenarioID]float64
	Winners     map[int]schemas.ScenarioID
	Excluded    map[int]bool
	Warnings    []string

	FinalRepresentatives []schemas.Scenario
	Summary              string

	Completed map[schemas.Phase]bool
}

// NewRunState initializes an empty aggregate for one run.
func NewRunState(runID string, input schemas.RunInput) *RunState {
	return &RunState{
		RunID:      runID,
		Input:      input,
		Directions: make(map[int]schemas.ResearchDirection),
		Scenarios:  make(map[schemas.ScenarioID]schemas.Scenario),
		Critiques:  make(map[string]schemas.Critique),
		Evolutions: make(map[string]schemas.EvolutionResult),
		Ratings:    make(map[schemas.ScenarioID]float64),
		Winners:    make(map[int]schemas.ScenarioID),
		Excluded:   make(map[int]bool),
		Completed:  make(map[schemas.Phase]bool),
	}
}

// Apply folds a batch of updates into the state. Append items land in keyed
// collections so the fold is order-independent; Override replaces the named
// slot wholesale.
func (s *RunState) Apply(updates []Update) error {
	for _, u := range updates {
		if err := s.applyOne(u); err != nil {
			return err
		}
	}
	// Sorted so that concurrent producers yield a deterministic final state.
	sort.Strings(s.Warnings)
	return nil
}

func (s *RunState) applyOne(u Update) error {
	switch u.Kind {
	case KindAppend:
		return s.applyAppend(u)
	case KindOverride:
		return s.applyOverride(u)
	default:
		return fmt.Errorf("unknown update kind %d for field %s", u.Kind, u.Field)
	}
}

func (s *RunState) applyAppend(u Update) error {
	for _, item := range u.Items {
		switch u.Field {
		case FieldDirections:
			d, ok := item.(schemas.ResearchDirection)
			if !ok {
				return fmt.Errorf("append to %s: unexpected item type %T", u.Field, item)
			}
			s.Directions[d.Index] = d
		case FieldScenarios:
			sc, ok := item.(schemas.Scenario)
			if !ok {
				return fmt.Errorf("append to %s: unexpected item type %T", u.Field, item)
			}
			s.Scenarios[sc.ID] = sc
		case FieldCritiques:
			c, ok := item.(schemas.Critique)
			if !ok {
				return fmt.Errorf("append to %s: unexpected item type %T", u.Field, item)
			}
			s.Critiques[c.ID] = c
		case FieldComparisons:
			c, ok := item.(schemas.Comparison)
			if !ok {
				return fmt.Errorf("append to %s: unexpected item type %T", u.Field, item)
			}
			s.Comparisons = append(s.Comparisons, c)
		case FieldEvolutions:
			e, ok := item.(schemas.EvolutionResult)
			if !ok {
				return fmt.Errorf("append to %s: unexpected item type %T", u.Field, item)
			}
			s.Evolutions[e.ID] = e
		case FieldWarnings:
			w, ok := item.(string)
			if !ok {
				return fmt.Errorf("append to %s: unexpected item type %T", u.Field, item)
			}
			s.Warnings = append(s.Warnings, w)
		case FieldExcludedDirections:
			idx, ok := item.(int)
			if !ok {
				return fmt.Errorf("append to %s: unexpected item type %T", u.Field, item)
			}
			s.Excluded[idx] = true
		default:
			return fmt.Errorf("field %s does not support append", u.Field)
		}
	}
	return nil
}

func (s *RunState) applyOverride(u Update) error {
	switch u.Field {
	case FieldQualityScores:
		scores, ok := u.Value.(map[schemas.ScenarioID]QualityAssessment)
		if !ok {
			return fmt.Errorf("override %s: unexpected value type %T", u.Field, u.Value)
		}
		for id, q := range scores {
			sc, exists := s.Scenarios[id]
			if !exists {
				continue
			}
			sc.QualityScore = q.Score
			sc.QualityFlagged = q.Flagged
			s.Scenarios[id] = sc
		}
	case FieldRatings:
		ratings, ok := u.Value.(map[schemas.ScenarioID]float64)
		if !ok {
			return fmt.Errorf("override %s: unexpected value type %T", u.Field, u.Value)
		}
		s.Ratings = ratings
	case FieldWinners:
		winners, ok := u.Value.(map[int]schemas.ScenarioID)
		if !ok {
			return fmt.Errorf("override %s: unexpected value type %T", u.Field, u.Value)
		}
		s.Winners = winners
	case FieldFinalRepresentatives:
		reps, ok := u.Value.([]schemas.Scenario)
		if !ok {
			return fmt.Errorf("override %s: unexpected value type %T", u.Field, u.Value)
		}
		s.FinalRepresentatives = reps
	case FieldSummary:
		summary, ok := u.Value.(string)
		if !ok {
			return fmt.Errorf("override %s: unexpected value type %T", u.Field, u.Value)
		}
		s.Summary = summary
	default:
		return fmt.Errorf("field %s does not support override", u.Field)
	}
	return nil
}

// ScenariosForDirection returns the direction's scenarios in deterministic
// bracket order: unflagged before reflection-flagged, then by team and id.
// Evolved scenarios sort after their origin teams via the id tiebreak.
func (s *RunState) ScenariosForDirection(directionIndex int, evolvedOnly bool) []schemas.Scenario {
	var out []schemas.Scenario
	for _, sc := range s.Scenarios {
		if sc.DirectionIndex != directionIndex {
			continue
		}
		if evolvedOnly != (sc.OriginScenarioID != "") {
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QualityFlagged != out[j].QualityFlagged {
			return !out[i].QualityFlagged
		}
		if out[i].TeamID != out[j].TeamID {
			return out[i].TeamID < out[j].TeamID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SurvivingDirections returns the sorted indexes of directions that still
// have at least one scenario and are not excluded.
func (s *RunState) SurvivingDirections() []int {
	seen := make(map[int]bool)
	for _, sc := range s.Scenarios {
		if !s.Excluded[sc.DirectionIndex] {
			seen[sc.DirectionIndex] = true
		}
	}
	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// CritiquesForScenario returns all critiques targeting one scenario, sorted
// by domain for stable prompt construction.
func (s *RunState) CritiquesForScenario(id schemas.ScenarioID) []schemas.Critique {
	var out []schemas.Critique
	for _, c := range s.Critiques {
		if c.TargetScenarioID == id {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out
}
