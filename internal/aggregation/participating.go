package aggregation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/onnwee/ecoscore/internal/policy"
	"github.com/onnwee/ecoscore/internal/product"
)

// Participation maps an aggregate score name to its participants and their
// weights, normalized to sum to 1 per aggregate.
type Participation map[string]map[string]float64

// BuildParticipation collects the "participates in" declarations of the
// vertical's attribute rules. Zero-weight declarations are left out.
func BuildParticipation(v *policy.Vertical) Participation {
	out := make(Participation)
	for _, rule := range v.Attributes {
		for _, decl := range rule.Participates {
			if decl.Aggregate == "" || decl.Weight <= 0 {
				continue
			}
			if out[decl.Aggregate] == nil {
				out[decl.Aggregate] = make(map[string]float64)
			}
			out[decl.Aggregate][rule.ScoreName()] += decl.Weight
		}
	}

	for _, participants := range out {
		total := 0.0
		for _, w := range participants {
			total += w
		}
		for name, w := range participants {
			participants[name] = w / total
		}
	}
	return out
}

// ParticipatingScorer computes the weighted aggregates declared through
// attribute participation, from the relativized values of the participants.
// A product missing any participant gets no aggregate.
type ParticipatingScorer struct {
	// Policies are read-only, so the participation of a vertical is built once.
	cache sync.Map // *policy.Vertical -> Participation
}

// NewParticipatingScorer creates a ParticipatingScorer.
func NewParticipatingScorer() *ParticipatingScorer { return &ParticipatingScorer{} }

func (*ParticipatingScorer) Name() string { return "participating" }

func (*ParticipatingScorer) OnProduct(context.Context, *BatchRunContext, *product.Product) error {
	return nil
}

func (s *ParticipatingScorer) participation(v *policy.Vertical) Participation {
	if cached, ok := s.cache.Load(v); ok {
		return cached.(Participation)
	}
	built := BuildParticipation(v)
	actual, _ := s.cache.LoadOrStore(v, built)
	return actual.(Participation)
}

func (s *ParticipatingScorer) Finish(ctx context.Context, run *BatchRunContext, products []*product.Product) error {
	aggregates := s.participation(run.Vertical)
	if len(aggregates) == 0 {
		return nil
	}

	names := make([]string, 0, len(aggregates))
	for name := range aggregates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		participants := sortedWeights(aggregates[name])
		for _, p := range products {
			aggregateProduct(run, p, name, participants)
		}
	}

	return Relativize(ctx, run, products, names)
}

type weighted struct {
	name   string
	weight float64
}

func sortedWeights(m map[string]float64) []weighted {
	out := make([]weighted, 0, len(m))
	for name, w := range m {
		out = append(out, weighted{name: name, weight: w})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func aggregateProduct(run *BatchRunContext, p *product.Product, name string, participants []weighted) {
	p.RemoveScore(name)

	total := 0.0
	allVirtual := true
	contributions := make(map[string]float64, len(participants))

	for _, part := range participants {
		s := p.Score(part.name)
		if s == nil {
			run.Diagnostics.Warn(CodeMissingParticipant, p.ID, name,
				fmt.Errorf("%w: %s", ErrMissingParticipant, part.name))
			return
		}
		value := participantValue(run, p, s)
		contributions[part.name] = value
		total += part.weight * value
		if !s.Virtual {
			allVirtual = false
		}
	}

	// An aggregate of backfilled values carries no data of its own.
	if allVirtual {
		p.SetScore(&product.Score{
			Name:       name,
			Value:      total,
			Absolute:   &product.Measure{Value: total},
			Virtual:    true,
			Aggregates: contributions,
		})
		return
	}

	agg, err := run.Record(p, name, total)
	if err != nil {
		return
	}
	agg.Aggregates = contributions
}

// participantValue prefers the relativized value, then the absolute value
// relativized on the spot, then the raw display value, warning at each fallback.
func participantValue(run *BatchRunContext, p *product.Product, s *product.Score) float64 {
	if s.Relative != nil {
		return s.Relative.Value
	}

	if res, _, err := run.Normalize(s.Name, s.AbsoluteValue()); err == nil {
		run.Diagnostics.Warn(CodeParticipantFallback, p.ID, s.Name,
			fmt.Errorf("no relative value, relativized absolute %g on the fly", s.AbsoluteValue()))
		return res.Value
	}

	run.Diagnostics.Warn(CodeParticipantFallback, p.ID, s.Name,
		fmt.Errorf("no relative value and absolute could not be relativized, using raw %g", s.Value))
	return s.Value
}
