package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dataset-audit/internal/config"
	"github.com/sells-group/dataset-audit/internal/diagnostics"
	"github.com/sells-group/dataset-audit/internal/explain"
	"github.com/sells-group/dataset-audit/internal/ledger"
	"github.com/sells-group/dataset-audit/internal/pipeline"
	"github.com/sells-group/dataset-audit/internal/resilience"
	"github.com/sells-group/dataset-audit/internal/store"
	anthropicpkg "github.com/sells-group/dataset-audit/pkg/anthropic"
)

// auditEnv holds the ledger, store and auditor needed by the audit, batch
// and serve commands.
type auditEnv struct {
	Ledger  *ledger.Ledger // nil when recording is disabled
	Store   store.Store    // nil when store.driver is "none"
	Auditor *pipeline.Auditor
}

// Close releases resources held by the environment.
func (e *auditEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.Ledger != nil {
		_ = e.Ledger.Close()
	}
}

// initStore opens the configured history store. It returns nil for the
// "none" driver.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "none":
		return nil, nil
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "audit.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// requireStore is initStore for commands that cannot work without one.
func requireStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("this command needs a history store; set store.driver to sqlite or postgres")
	}
	return st, nil
}

// initExplainer builds the explainer. Without an API key the explainer has
// no client and always returns the fallback response.
func initExplainer(c *config.Config) *explain.Explainer {
	var client anthropicpkg.Client
	if c.Anthropic.Key != "" {
		client = anthropicpkg.NewClient(c.Anthropic.Key)
	} else {
		zap.L().Debug("no anthropic key configured, explanations will use the fallback")
	}

	retry := resilience.DefaultRetryConfig()
	if c.Explain.MaxAttempts > 0 {
		retry.MaxAttempts = c.Explain.MaxAttempts
	}
	return explain.New(client, explain.Config{
		Model:             c.Explain.Model,
		MaxTokens:         c.Explain.MaxTokens,
		Timeout:           c.Explain.Timeout(),
		RequestsPerMinute: c.Explain.RequestsPerMinute,
		Retry:             retry,
		Breaker:           resilience.CircuitBreakerConfig{FailureThreshold: c.Explain.FailureThreshold},
	})
}

// initAuditor opens the ledger and store and builds the Auditor. With
// record=false nothing is opened and the auditor only computes reports.
// Callers should defer env.Close().
func initAuditor(ctx context.Context, c *config.Config, record bool) (*auditEnv, error) {
	env := &auditEnv{}

	if record {
		l, err := ledger.Open(c.Ledger.Path)
		if err != nil {
			return nil, err
		}
		env.Ledger = l

		st, err := initStore(ctx, c)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Store = st
	}

	env.Auditor = pipeline.New(pipeline.Options{
		Diagnostics: diagnostics.Options{
			Parallel:      c.Diagnostics.Parallel,
			ReportSkipped: c.Diagnostics.ReportSkipped,
		},
	}, env.Ledger, env.Store, initExplainer(c))
	return env, nil
}
