package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/phrazzld/coursegen/internal/app"
	"github.com/phrazzld/coursegen/internal/config"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/enumerate"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/jobqueue"
	"github.com/phrazzld/coursegen/internal/mocks"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "debug"},
		Auth: config.AuthConfig{
			JWTSecret:            "thisisasecretkeythatis32charslong!!",
			TokenLifetimeMinutes: 60,
		},
		LLM: config.LLMConfig{ModelName: "gemini-2.0-flash"},
		Queue: config.QueueConfig{
			WorkerCount:              2,
			RetryBudget:              3,
			RetryDelaySeconds:        0,
			Backoff:                  "constant",
			LeaseSeconds:             60,
			SweepIntervalSeconds:     30,
			GenerationTimeoutSeconds: 5,
			PollIntervalMillis:       10,
		},
		Redis:   config.RedisConfig{Channel: "coursegen:test"},
		Metrics: config.MetricsConfig{Enabled: true},
	}
}

func submission() enumerate.Submission {
	return enumerate.Submission{
		Course: domain.CourseMetadata{Title: "Math"},
		Modules: []domain.ModuleInput{
			{Title: "Fractions", Content: "## Intro\n\ntext\n\n## Operations\n\nmore"},
		},
	}
}

func TestNew_ReadOnly(t *testing.T) {
	_, log := logger.NewTestLogger()
	ctx := context.Background()

	a, err := app.New(ctx, testConfig(), log, nil, app.Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Nil(t, a.Worker)
	assert.Nil(t, a.Pool)
	assert.NotNil(t, a.Sweeper)
	assert.Nil(t, a.Publisher)
	assert.Equal(t, 1, a.Emitter.HandlerCount(), "metrics collector only")
	require.NotNil(t, a.JWT)

	res, err := a.Service.Submit(ctx, submission())
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalJobs)

	_, err = a.Service.ProcessOne(ctx, res.BatchID)
	assert.ErrorIs(t, err, jobqueue.ErrNoWorker)
}

func TestNew_WorkerDrainsBatch(t *testing.T) {
	_, log := logger.NewTestLogger()
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	gen := &mocks.MockGenerator{}

	a, err := app.New(ctx, testConfig(), log, nil, app.Options{
		WithWorker: true,
		Generator:  gen,
		Registerer: reg,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NotNil(t, a.Pool)
	require.NotNil(t, a.Metrics)

	res, err := a.Service.Submit(ctx, submission())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	progress, err := a.Pool.RunUntilDrained(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Completed)
	assert.Equal(t, 2, gen.Calls())

	assert.Equal(t, float64(2), counterValue(t, reg, "coursegen_jobs_claimed_total"))
}

func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			require.NotEmpty(t, f.GetMetric())
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func TestNew_PublishesToRedis(t *testing.T) {
	_, log := logger.NewTestLogger()
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.Addr = mr.Addr()
	cfg.Metrics.Enabled = false

	a, err := app.New(context.Background(), cfg, log, nil, app.Options{})
	require.NoError(t, err)
	require.NotNil(t, a.Publisher)
	assert.Nil(t, a.Metrics)
	assert.Equal(t, 1, a.Emitter.HandlerCount())
	assert.Equal(t, "coursegen:test", a.Publisher.Channel())
	assert.NoError(t, a.Close())
}

func TestNew_Errors(t *testing.T) {
	_, log := logger.NewTestLogger()
	ctx := context.Background()

	t.Run("short jwt secret", func(t *testing.T) {
		cfg := testConfig()
		cfg.Auth.JWTSecret = "short"
		_, err := app.New(ctx, cfg, log, nil, app.Options{Registerer: prometheus.NewRegistry()})
		assert.Error(t, err)
	})

	t.Run("invalid backoff", func(t *testing.T) {
		cfg := testConfig()
		cfg.Queue.Backoff = "linear"
		_, err := app.New(ctx, cfg, log, nil, app.Options{Registerer: prometheus.NewRegistry()})
		assert.Error(t, err)
	})

	t.Run("missing generation key", func(t *testing.T) {
		cfg := testConfig()
		cfg.Metrics.Enabled = false
		_, err := app.New(ctx, cfg, log, nil, app.Options{WithWorker: true})
		assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig()
		cfg.Redis.Addr = addr
		cfg.Metrics.Enabled = false
		_, err := app.New(ctx, cfg, log, nil, app.Options{})
		assert.Error(t, err)
	})
}
