package consensus

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/quote-engine/internal/model"
	"github.com/sells-group/quote-engine/internal/offers"
)

// Resolver verifies a single offer against the store lookup provider.
// used holds normalized store URLs already claimed by other offers in this
// run; the controller passes a snapshot and reconciles duplicates after
// each batch.
type Resolver interface {
	Resolve(ctx context.Context, offer model.Offer, used map[string]struct{}) model.ValidationResult
}

// Config holds the controller's tuning knobs. All fields are immutable for
// the lifetime of a run; there is no ambient configuration.
type Config struct {
	TargetCount         int
	InitialTolerancePct float64
	ToleranceStepPct    float64
	ToleranceCeilingPct float64
	MaxRounds           int
	MaxBlockSpan        int // cap on block window length
	Concurrency         int // resolver fan-out within a block
}

// DefaultConfig returns the standard controller configuration.
func DefaultConfig() Config {
	return Config{
		TargetCount:         3,
		InitialTolerancePct: 25,
		ToleranceStepPct:    5,
		ToleranceCeilingPct: 60,
		MaxRounds:           10,
		MaxBlockSpan:        10,
		Concurrency:         3,
	}
}

// Outcome is the terminal result of a consensus run.
type Outcome struct {
	Validated      []model.ValidationResult
	Discarded      []model.ValidationResult
	Reason         model.TerminalReason
	FinalTolerance float64
	RoundsUsed     int
	Rounds         []model.Round
}

// Complete reports whether the run reached the target count.
func (o *Outcome) Complete() bool {
	return o.Reason == model.ReasonTargetReached
}

// Controller drives the block/resolve loop: it resolves offers inside the
// current best block, accumulates verified results, and escalates the
// tolerance when a pass yields too few survivors. Tolerance is raised only
// after every block at the current tolerance has been exhausted; that
// ordering keeps billable lookup calls to a minimum and must be preserved.
type Controller struct {
	cfg      Config
	resolver Resolver

	// OnRound, when set, receives each round's audit record as it is
	// produced. The controller never reads records back.
	OnRound func(ctx context.Context, round model.Round)
}

// New creates a Controller. cfg fields at zero are replaced by defaults.
func New(cfg Config, resolver Resolver) *Controller {
	def := DefaultConfig()
	if cfg.TargetCount <= 0 {
		cfg.TargetCount = def.TargetCount
	}
	if cfg.InitialTolerancePct <= 0 {
		cfg.InitialTolerancePct = def.InitialTolerancePct
	}
	if cfg.ToleranceStepPct <= 0 {
		cfg.ToleranceStepPct = def.ToleranceStepPct
	}
	if cfg.ToleranceCeilingPct <= 0 {
		cfg.ToleranceCeilingPct = def.ToleranceCeilingPct
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = def.MaxRounds
	}
	if cfg.MaxBlockSpan <= 0 {
		cfg.MaxBlockSpan = def.MaxBlockSpan
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Controller{cfg: cfg, resolver: resolver}
}

// state partitions the filtered input set. At every round boundary an
// offer is in exactly one of validated, discarded, pending.
type state struct {
	validated []model.ValidationResult
	discarded []model.ValidationResult
	pending   []model.Offer

	used         map[string]struct{} // store URLs claimed by validated offers
	apiErrRound  map[int]int         // offer position -> round of last transient failure
	apiErrCount  map[int]int         // offer position -> transient failure count
}

// Run executes the consensus loop over the filtered, price-sorted offers.
// It returns a terminal Outcome for every expected condition, including
// exhaustion; an error is returned only on cancellation.
func (c *Controller) Run(ctx context.Context, offers []model.Offer) (*Outcome, error) {
	log := zap.L().With(zap.Int("offers", len(offers)), zap.Int("target", c.cfg.TargetCount))

	st := &state{
		pending:     append([]model.Offer(nil), offers...),
		used:        make(map[string]struct{}),
		apiErrRound: make(map[int]int),
		apiErrCount: make(map[int]int),
	}

	out := &Outcome{FinalTolerance: c.cfg.InitialTolerancePct}
	tolerance := c.cfg.InitialTolerancePct
	round := 0

	if len(st.pending) == 0 {
		out.Reason = model.ReasonNoOffers
		return out, nil
	}

	for {
		// Cancellation is honored between rounds only; an in-flight block
		// finishes and its results are discarded with the run.
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "consensus: run cancelled")
		}

		if len(st.validated) >= c.cfg.TargetCount {
			out.Reason = model.ReasonTargetReached
			break
		}
		if len(st.pending) == 0 {
			out.Reason = model.ReasonAllOffersDiscarded
			break
		}
		if round >= c.cfg.MaxRounds {
			out.Reason = model.ReasonRoundBudgetExceeded
			break
		}
		round++

		// Offers that failed transiently in an earlier round become
		// retryable now; offers that failed this round haven't been
		// attempted yet by construction.
		candidates := st.pending

		needed := c.cfg.TargetCount - len(st.validated)
		minSize := needed
		if minSize > c.cfg.MaxBlockSpan {
			minSize = c.cfg.MaxBlockSpan
		}

		blocks := BuildBlocks(candidates, tolerance, minSize, c.cfg.MaxBlockSpan)
		best := SelectBlock(blocks)

		rec := model.Round{
			Number:          round,
			Tolerance:       tolerance,
			ValidatedBefore: len(st.validated),
			At:              time.Now().UTC(),
		}

		if best == nil {
			next := tolerance + c.cfg.ToleranceStepPct
			if next > c.cfg.ToleranceCeilingPct {
				rec.Escalated = false
				c.finishRound(ctx, st, &rec, out)
				out.Reason = model.ReasonToleranceCeiling
				log.Info("consensus: tolerance ceiling reached",
					zap.Float64("tolerance", tolerance),
					zap.Int("validated", len(st.validated)),
				)
				break
			}
			tolerance = next
			rec.Escalated = true
			c.finishRound(ctx, st, &rec, out)
			log.Debug("consensus: escalating tolerance",
				zap.Float64("tolerance", tolerance),
				zap.Int("round", round),
			)
			continue
		}

		rec.Block = best
		rec.Tested = c.resolveBlock(ctx, st, best, round)
		c.finishRound(ctx, st, &rec, out)

		log.Debug("consensus: round complete",
			zap.Int("round", round),
			zap.Float64("tolerance", tolerance),
			zap.Int("validated", len(st.validated)),
			zap.Int("discarded", len(st.discarded)),
			zap.Int("pending", len(st.pending)),
		)
	}

	out.Validated = st.validated
	out.Discarded = st.discarded
	out.FinalTolerance = tolerance
	out.RoundsUsed = round
	return out, nil
}

// resolveBlock dispatches the block's offers to the resolver with bounded
// fan-out, waits for the whole block, then commits outcomes in offer order
// so duplicate store claims resolve deterministically.
func (c *Controller) resolveBlock(ctx context.Context, st *state, block *model.Block, round int) []model.ValidationResult {
	results := make([]model.ValidationResult, len(block.Offers))

	// Snapshot of URLs claimed so far; concurrent resolutions inside the
	// batch are reconciled below rather than locked throughout.
	snapshot := make(map[string]struct{}, len(st.used))
	for u := range st.used {
		snapshot[u] = struct{}{}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, o := range block.Offers {
		g.Go(func() error {
			results[i] = c.resolver.Resolve(gCtx, o, snapshot)
			return nil
		})
	}
	_ = g.Wait()

	// Commit phase: in offer (price) order, so the cheaper offer wins a
	// contested store URL.
	attempted := make(map[int]bool, len(results))
	for i := range results {
		r := results[i]
		attempted[r.Offer.Position] = true

		if r.OK {
			key := offers.NormalizeURL(r.Store.URL)
			if _, taken := st.used[key]; taken {
				r = model.Failed(r.Offer, model.FailureDuplicateURL)
				results[i] = r
			} else {
				st.used[key] = struct{}{}
				st.validated = append(st.validated, r)
				continue
			}
		}

		if r.Failure.Transient() {
			st.apiErrCount[r.Offer.Position]++
			st.apiErrRound[r.Offer.Position] = round
			if st.apiErrCount[r.Offer.Position] < 2 {
				// One retry in a later round: stays pending.
				attempted[r.Offer.Position] = false
				continue
			}
			// Second transient failure is permanent for this run.
		}
		st.discarded = append(st.discarded, r)
	}

	// Remove attempted offers from pending; transient failures below the
	// retry cap stay.
	remaining := st.pending[:0]
	for _, o := range st.pending {
		if !attempted[o.Position] {
			remaining = append(remaining, o)
		}
	}
	st.pending = remaining

	return results
}

// finishRound stamps the after-counts on the record, appends it to the
// outcome, and notifies the audit callback.
func (c *Controller) finishRound(ctx context.Context, st *state, rec *model.Round, out *Outcome) {
	rec.ValidatedAfter = len(st.validated)
	rec.DiscardedAfter = len(st.discarded)
	rec.PendingAfter = len(st.pending)
	out.Rounds = append(out.Rounds, *rec)
	if c.OnRound != nil {
		c.OnRound(ctx, *rec)
	}
}

// Truncate reduces an over-full validated set to exactly target results,
// preferring the contiguous price window with the lowest spread. Results
// are returned sorted by verified store price.
func Truncate(validated []model.ValidationResult, target int) []model.ValidationResult {
	if target <= 0 || len(validated) <= target {
		sorted := append([]model.ValidationResult(nil), validated...)
		sort.SliceStable(sorted, func(i, j int) bool { return resolvedPrice(sorted[i]) < resolvedPrice(sorted[j]) })
		return sorted
	}

	sorted := append([]model.ValidationResult(nil), validated...)
	sort.SliceStable(sorted, func(i, j int) bool { return resolvedPrice(sorted[i]) < resolvedPrice(sorted[j]) })

	bestStart := 0
	bestSpread := Variation(resolvedPrice(sorted[0]), resolvedPrice(sorted[target-1]))
	for start := 1; start+target <= len(sorted); start++ {
		spread := Variation(resolvedPrice(sorted[start]), resolvedPrice(sorted[start+target-1]))
		if spread < bestSpread {
			bestSpread = spread
			bestStart = start
		}
	}
	return sorted[bestStart : bestStart+target]
}

func resolvedPrice(r model.ValidationResult) float64 {
	if r.Store != nil && r.Store.Price > 0 {
		return r.Store.Price
	}
	return r.Offer.Price
}
