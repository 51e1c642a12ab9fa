package learngraph

import (
	"context"
	"fmt"

	"github.com/dan-solli/learngraph/pkg/config"
	"github.com/dan-solli/learngraph/pkg/decay"
	"github.com/dan-solli/learngraph/pkg/fingerprint"
	"github.com/dan-solli/learngraph/pkg/metrics"
	"github.com/dan-solli/learngraph/pkg/notify"
	"github.com/dan-solli/learngraph/pkg/processor"
	"github.com/dan-solli/learngraph/pkg/trace"
)

// ConfigFromSettings builds an engine Config from loaded settings, opening
// the notification backend and trace exporter they name. The returned
// collector is non-nil only when metrics are enabled.
func ConfigFromSettings(ctx context.Context, s config.Config) (Config, *metrics.MetricsCollector, error) {
	loc, err := s.Location()
	if err != nil {
		return Config{}, nil, err
	}

	dbPath := s.DBPath
	if dbPath == "" {
		dbPath, err = config.DefaultDBPath()
		if err != nil {
			return Config{}, nil, err
		}
	}

	g := s.Graph
	cfg := Config{
		DBPath:   dbPath,
		Location: loc,
		Processor: processor.Config{
			OpenWindow: g.OpenWindow,
			OpenBump:   g.OpenBump,
			QuizBump:   g.QuizBump,
			LensBump:   g.LensBump,
		},
		EdgePolicy: decay.EdgePolicy{
			StaleAfter: g.EdgeStaleAfter,
			Factor:     g.EdgeDecayFactor,
			Floor:      g.EdgeArchiveFloor,
		},
		Fingerprint: fingerprint.Config{
			Window:           s.Fingerprint.Window,
			CacheSize:        s.Fingerprint.CacheSize,
			WeakConceptLimit: s.Fingerprint.WeakConceptLimit,
			BreakdownLimit:   s.Fingerprint.BreakdownLimit,
		},
	}

	var collector *metrics.MetricsCollector
	if s.Metrics.Enabled {
		collector = metrics.NewCollector()
		cfg.Metrics = collector
	}

	tracer, err := trace.NewFileExporter(s.Trace.Path)
	if err != nil {
		return Config{}, nil, fmt.Errorf("failed to open trace exporter: %w", err)
	}
	cfg.Tracer = tracer

	switch s.Notify.Backend {
	case config.BackendNATS:
		pub, err := notify.NewNATS(s.Notify.URL, s.Notify.Prefix)
		if err != nil {
			tracer.Close()
			return Config{}, nil, err
		}
		cfg.Publisher = pub
	case config.BackendRedis:
		pub, err := notify.NewRedis(ctx, s.Notify.Addr, s.Notify.Prefix)
		if err != nil {
			tracer.Close()
			return Config{}, nil, err
		}
		cfg.Publisher = pub
	}

	return cfg, collector, nil
}
