package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dan-solli/learngraph/pkg/events"
	"github.com/dan-solli/learngraph/pkg/store"
)

// Config holds the fingerprint engine's tunables.
type Config struct {
	// Window is how many of a learner's newest events are replayed.
	Window int
	// CacheSize bounds the summary cache. Zero disables caching.
	CacheSize int
	// WeakConceptLimit bounds weak_concepts_due in summaries.
	WeakConceptLimit int
	// BreakdownLimit bounds the concept breakdown.
	BreakdownLimit int
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		Window:           500,
		CacheSize:        256,
		WeakConceptLimit: 20,
		BreakdownLimit:   50,
	}
}

// RecordResult reports what Record did.
type RecordResult struct {
	ID string
	// Skipped is set when fingerprinting is disabled for the learner.
	Skipped bool
	// PayloadErr lists payload fields replaced by defaults. Informational.
	PayloadErr error
}

// Engine records interactions and maintains each learner's fingerprint.
type Engine struct {
	store   *store.SQLiteStore
	decoder *events.Decoder
	cfg     Config
	cache   *lru.Cache[string, *Summary]
	locks   *keyedMutex
	logger  *slog.Logger
}

// New creates an Engine. Zero-valued Config fields take their defaults,
// except CacheSize which must be set explicitly to enable caching.
func New(st *store.SQLiteStore, dec *events.Decoder, cfg Config) (*Engine, error) {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.WeakConceptLimit <= 0 {
		cfg.WeakConceptLimit = def.WeakConceptLimit
	}
	if cfg.BreakdownLimit <= 0 {
		cfg.BreakdownLimit = def.BreakdownLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	e := &Engine{
		store:   st,
		decoder: dec,
		cfg:     cfg,
		locks:   newKeyedMutex(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, *Summary](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create summary cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// WithLogger sets the logger. A nil logger discards output.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e.logger = logger
	return e
}

func (e *Engine) now() time.Time {
	return e.cfg.Clock().UTC()
}

func (e *Engine) invalidate(userID string) {
	if e.cache != nil {
		e.cache.Remove(userID)
	}
}

// Record appends one interaction and recomputes the learner's fingerprint
// in the same transaction. When fingerprinting is disabled nothing is
// written and the result is Skipped.
func (e *Engine) Record(ctx context.Context, in events.Interaction) (*RecordResult, error) {
	if in.UserID == "" {
		return nil, errors.New("interaction has no user id")
	}
	unlock := e.locks.Lock(in.UserID)
	defer unlock()

	_, stored, perr := e.decoder.DecodeCognitive(in.Type, in.Payload)
	if perr != nil {
		e.logger.Warn("cognitive payload defaults applied", "user", in.UserID, "type", in.Type, "error", perr)
	}

	res := &RecordResult{PayloadErr: perr}
	tags := events.CleanTags(in.ConceptTags)
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		enabled, err := tx.FingerprintEnabled(ctx, in.UserID)
		if err != nil {
			return err
		}
		if !enabled {
			res.Skipped = true
			return nil
		}

		ev := &store.CognitiveEvent{
			ID:              uuid.New().String(),
			UserID:          in.UserID,
			SessionID:       in.SessionID,
			CourseID:        in.CourseID,
			ConceptTags:     tags,
			QuestionID:      in.QuestionID,
			InteractionType: in.Type,
			Payload:         stored,
			CreatedAt:       e.now(),
		}
		if err := tx.AppendCognitiveEvent(ctx, ev); err != nil {
			return err
		}
		res.ID = ev.ID
		return e.recompute(ctx, tx, in.UserID, tags)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record interaction: %w", err)
	}

	if res.Skipped {
		e.logger.Debug("fingerprint disabled, interaction skipped", "user", in.UserID)
		return res, nil
	}
	e.invalidate(in.UserID)
	return res, nil
}

// Recompute rebuilds a learner's fingerprint from the log.
func (e *Engine) Recompute(ctx context.Context, userID string) error {
	unlock := e.locks.Lock(userID)
	defer unlock()

	err := e.store.Update(ctx, func(tx *store.Tx) error {
		return e.recompute(ctx, tx, userID, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to recompute fingerprint: %w", err)
	}
	e.invalidate(userID)
	return nil
}

func (e *Engine) recompute(ctx context.Context, tx *store.Tx, userID string, tags []string) error {
	rows, err := tx.RecentCognitiveEvents(ctx, userID, e.cfg.Window)
	if err != nil {
		return err
	}
	obs := make([]Observation, 0, len(rows))
	for _, r := range rows {
		p, err := events.ParseCognitivePayload(r.Payload)
		if err != nil {
			return fmt.Errorf("event %s: %w", r.ID, err)
		}
		obs = append(obs, Observation{
			Seq:         r.Seq,
			QuestionID:  r.QuestionID,
			Interaction: r.InteractionType,
			Tags:        r.ConceptTags,
			Payload:     p,
			At:          r.CreatedAt,
		})
	}

	var (
		prevPrefs map[string]float64
		watermark int64
	)
	prev, err := tx.GetFingerprintUser(ctx, userID)
	switch {
	case err == nil:
		prevPrefs, watermark = prev.PreferenceScores, prev.PreferenceWatermark
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	now := e.now()
	profile := ClassifyErrors(obs)
	prefs, mark := LearnPreferences(obs, prevPrefs, watermark)
	if err := tx.PutFingerprintUser(ctx, &store.FingerprintUser{
		UserID:              userID,
		ErrorTypeScores:     profile.Scores,
		ErrorExamples:       profile.Examples,
		PreferenceScores:    prefs,
		PreferenceWatermark: mark,
		UpdatedAt:           now,
	}); err != nil {
		return err
	}

	concepts := RollUpConcepts(userID, obs, tags, now)
	for i := range concepts {
		if err := tx.PutFingerprintConcept(ctx, &concepts[i]); err != nil {
			return err
		}
	}

	e.logger.Debug("fingerprint recomputed", "user", userID, "events", len(obs), "concepts", len(concepts))
	return nil
}

// Summary returns the learner's fingerprint summary. Callers own the
// returned value; the cached entry is never handed out.
func (e *Engine) Summary(ctx context.Context, userID string) (*Summary, error) {
	if e.cache != nil {
		if s, ok := e.cache.Get(userID); ok {
			return s.Clone(), nil
		}
	}

	// Held across load and fill so a concurrent Record cannot invalidate
	// between the two and leave a stale entry behind.
	unlock := e.locks.Lock(userID)
	defer unlock()

	var s *Summary
	err := e.store.View(ctx, func(tx *store.Tx) error {
		fu, err := tx.GetFingerprintUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			fu = nil
		} else if err != nil {
			return err
		}
		concepts, err := tx.FingerprintConcepts(ctx, userID, e.cfg.WeakConceptLimit)
		if err != nil {
			return err
		}
		s = Summarize(fu, concepts, e.now())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprint summary: %w", err)
	}

	if e.cache != nil {
		e.cache.Add(userID, s)
		return s.Clone(), nil
	}
	return s, nil
}

// Breakdown returns per-concept detail, weakest first.
func (e *Engine) Breakdown(ctx context.Context, userID string) ([]ConceptBreakdown, error) {
	var out []ConceptBreakdown
	err := e.store.View(ctx, func(tx *store.Tx) error {
		rows, err := tx.FingerprintConcepts(ctx, userID, e.cfg.BreakdownLimit)
		if err != nil {
			return err
		}
		out = breakdownOf(rows)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load concept breakdown: %w", err)
	}
	return out, nil
}

// Plan returns the learner's personalization plan.
func (e *Engine) Plan(ctx context.Context, userID string, pc PlanContext) (Plan, error) {
	s, err := e.Summary(ctx, userID)
	if err != nil {
		return Plan{}, err
	}
	return PersonalizationPlan(s, pc), nil
}

// Delete purges a learner's raw and derived rows and disables recording
// until Enable is called.
func (e *Engine) Delete(ctx context.Context, userID string) error {
	unlock := e.locks.Lock(userID)
	defer unlock()

	var purged int64
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		n, err := tx.DeleteCognitiveEvents(ctx, userID)
		if err != nil {
			return err
		}
		purged = n
		if err := tx.DeleteFingerprint(ctx, userID); err != nil {
			return err
		}
		return tx.SetFingerprintEnabled(ctx, userID, false, e.now())
	})
	if err != nil {
		return fmt.Errorf("failed to delete fingerprint: %w", err)
	}
	e.invalidate(userID)
	e.logger.Info("fingerprint deleted", "user", userID, "events_purged", purged)
	return nil
}

// Enable turns recording back on for a learner.
func (e *Engine) Enable(ctx context.Context, userID string) error {
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		return tx.SetFingerprintEnabled(ctx, userID, true, e.now())
	})
	if err != nil {
		return fmt.Errorf("failed to enable fingerprint: %w", err)
	}
	e.logger.Info("fingerprint enabled", "user", userID)
	return nil
}

// Enabled reports whether recording is on for a learner.
func (e *Engine) Enabled(ctx context.Context, userID string) (bool, error) {
	var enabled bool
	err := e.store.View(ctx, func(tx *store.Tx) error {
		var err error
		enabled, err = tx.FingerprintEnabled(ctx, userID)
		return err
	})
	return enabled, err
}

// keyedMutex serializes work per key without one global lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e := k.locks[key]
	if e == nil {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
