package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/cohort/internal/platform/metrics"
)

// ErrStoreUnavailable is returned by snapshot operations when the service
// runs without a database.
var ErrStoreUnavailable = errors.New("snapshot store not configured")

var errRequestIDRequired = errors.New("request id is required")

// Compilation is everything derived from one tree: the request document,
// the per-resource filters, the access decision and the problems found.
type Compilation struct {
	Request    RequestDocument           `json:"request"`
	Filters    map[ResourceKind][]string `json:"filters"`
	Nominative bool                      `json:"nominative"`
	AccessTier AccessTier                `json:"accessTier"`
	Findings   []NominativeFinding       `json:"findings,omitempty"`
	Anomalies  []Anomaly                 `json:"anomalies,omitempty"`
}

// Classification is the access decision for a tree.
type Classification struct {
	Nominative bool                `json:"nominative"`
	AccessTier AccessTier          `json:"accessTier"`
	Findings   []NominativeFinding `json:"findings,omitempty"`
}

// Service compiles, classifies and persists criteria trees for the HTTP
// and CLI surfaces.
type Service struct {
	repo    SnapshotRepository
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// SetMetrics attaches collectors. A nil m disables recording.
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// NewService wires the compiler to a snapshot store. repo may be nil, in
// which case snapshot operations fail with ErrStoreUnavailable.
func NewService(repo SnapshotRepository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "cohort").Logger()}
}

// Build compiles the request document and classifies the tree in parallel.
func (s *Service) Build(ctx context.Context, state State, sourcePopulation []string) (*Compilation, error) {
	start := time.Now()
	leaves := state.Leaves()
	out := &Compilation{}

	var requestAnomalies []Anomaly
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		begin := time.Now()
		out.Request, requestAnomalies = BuildRequest(state, sourcePopulation)
		byKind := CompileByKind(leaves)
		out.Filters = make(map[ResourceKind][]string, len(byKind))
		for kind, frags := range byKind {
			out.Filters[kind] = frags.Strings()
		}
		s.metrics.ObserveCompile("compile", time.Since(begin))
		return nil
	})
	g.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		begin := time.Now()
		out.Findings = Explain(leaves)
		out.Nominative = len(out.Findings) > 0
		out.AccessTier = TierFor(out.Nominative)
		s.metrics.ObserveCompile("classify", time.Since(begin))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.Anomalies = mergeAnomalies(state.Validate(), requestAnomalies)
	s.record(out, leaves)
	s.metrics.ObserveCompile("build", time.Since(start))
	return out, nil
}

// Classify returns the access decision without compiling.
func (s *Service) Classify(ctx context.Context, state State) (*Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	findings := Explain(state.Leaves())
	out := &Classification{
		Nominative: len(findings) > 0,
		AccessTier: TierFor(len(findings) > 0),
		Findings:   findings,
	}
	s.metrics.IncrementTier(string(out.AccessTier))
	s.logger.Debug().
		Str("tier", string(out.AccessTier)).
		Int("findings", len(findings)).
		Msg("classified cohort")
	return out, nil
}

// SaveSnapshot compiles state and persists it with its request document
// under requestID.
func (s *Service) SaveSnapshot(ctx context.Context, requestID string, state State, sourcePopulation []string) (*Snapshot, *Compilation, error) {
	if s.repo == nil {
		return nil, nil, ErrStoreUnavailable
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, nil, errRequestIDRequired
	}
	comp, err := s.Build(ctx, state, sourcePopulation)
	if err != nil {
		return nil, nil, err
	}
	model, err := json.Marshal(state)
	if err != nil {
		return nil, nil, fmt.Errorf("encode cohort state: %w", err)
	}
	doc, err := json.Marshal(comp.Request)
	if err != nil {
		return nil, nil, fmt.Errorf("encode request document: %w", err)
	}
	snap := &Snapshot{
		RequestID:       requestID,
		SerializedModel: model,
		RequestDocument: doc,
		Nominative:      comp.Nominative,
		AccessTier:      comp.AccessTier,
	}
	err = s.repo.Create(ctx, snap)
	s.metrics.IncrementSnapshot("save", err)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info().
		Str("request_id", requestID).
		Str("snapshot_id", snap.ID.String()).
		Str("tier", string(snap.AccessTier)).
		Msg("snapshot saved")
	return snap, comp, nil
}

// GetSnapshot returns one snapshot, or ErrSnapshotNotFound.
func (s *Service) GetSnapshot(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}
	snap, err := s.repo.GetByID(ctx, id)
	s.metrics.IncrementSnapshot("get", err)
	return snap, err
}

// ListSnapshots returns the snapshots of one request, newest first.
func (s *Service) ListSnapshots(ctx context.Context, requestID string, limit, offset int) ([]*Snapshot, int, error) {
	if s.repo == nil {
		return nil, 0, ErrStoreUnavailable
	}
	items, total, err := s.repo.ListByRequest(ctx, requestID, limit, offset)
	s.metrics.IncrementSnapshot("list", err)
	return items, total, err
}

func (s *Service) record(c *Compilation, leaves []LeafNode) {
	counts := map[ResourceKind]int{}
	for _, l := range leaves {
		if !l.Invalid && l.Fields != nil {
			counts[l.Fields.Kind()]++
		}
	}
	for kind, n := range counts {
		s.metrics.AddCriteria(string(kind), n)
	}
	s.metrics.IncrementTier(string(c.AccessTier))
	for _, a := range c.Anomalies {
		s.metrics.IncrementAnomaly(string(a.Kind))
	}

	s.logger.Debug().
		Int("leaves", len(leaves)).
		Int("resource_types", len(c.Filters)).
		Str("tier", string(c.AccessTier)).
		Msg("compiled cohort")
	if len(c.Anomalies) > 0 {
		s.logger.Warn().
			Int("anomalies", len(c.Anomalies)).
			Str("first", c.Anomalies[0].String()).
			Msg("cohort tree has structural anomalies")
	}
}

// mergeAnomalies concatenates anomaly lists, keeping the first report of
// each kind and node.
func mergeAnomalies(lists ...[]Anomaly) []Anomaly {
	type key struct {
		kind AnomalyKind
		id   int
	}
	seen := map[key]bool{}
	var out []Anomaly
	for _, list := range lists {
		for _, a := range list {
			k := key{a.Kind, a.NodeID}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, a)
		}
	}
	return out
}
