package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`server:
  port: 9090
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 90*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "memory", cfg.Records.Backend)

	require.True(t, cfg.RateLimits.IsEnabled())
	anon := cfg.RateLimits.ProfileLimits("anonymous")
	require.NotNil(t, anon.PerMinute)
	assert.EqualValues(t, 1, *anon.PerMinute)
	assert.EqualValues(t, 3, *anon.PerHour)
	assert.EqualValues(t, 20, *anon.PerDay)

	keyed := cfg.RateLimits.ProfileLimits("api_key")
	assert.EqualValues(t, 5, *keyed.PerMinute)
	assert.EqualValues(t, 200, *keyed.PerDay)

	budget, ok := cfg.Budgets.BudgetFor("anonymous")
	require.True(t, ok)
	assert.Equal(t, 1.00, budget)
	assert.Equal(t, 0.10, cfg.Budgets.DefaultEstimate)

	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.OpenRouter.BaseURL)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.OpenRouter.Model)
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_OPENROUTER_KEY", "sk-or-abc")

	cfg, err := Parse([]byte(`openrouter:
  api_key: ${TEST_OPENROUTER_KEY}
  model: ${TEST_MISSING_MODEL:-meta-llama/llama-3.1-8b}
`))
	require.NoError(t, err)

	assert.Equal(t, "sk-or-abc", cfg.OpenRouter.APIKey)
	assert.Equal(t, "meta-llama/llama-3.1-8b", cfg.OpenRouter.Model)
}

func TestParse_ProfileOverridesReplaceDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`rate_limits:
  profiles:
    anonymous:
      per_minute: 2
    partner:
      per_hour: 1000
`))
	require.NoError(t, err)

	anon := cfg.RateLimits.ProfileLimits("anonymous")
	require.NotNil(t, anon.PerMinute)
	assert.EqualValues(t, 2, *anon.PerMinute)
	assert.Nil(t, anon.PerHour, "unset windows stay unlimited")

	partner := cfg.RateLimits.ProfileLimits("partner")
	assert.EqualValues(t, 1000, *partner.PerHour)

	// Unknown profiles fall back to anonymous.
	unknown := cfg.RateLimits.ProfileLimits("nope")
	assert.EqualValues(t, 2, *unknown.PerMinute)
}

func TestParse_SQLRecordsRequireDatabase(t *testing.T) {
	_, err := Parse([]byte(`records:
  backend: sql
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "records.backend 'sql' requires")

	_, err = Parse([]byte(`records:
  backend: sql
  database: main
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in databases section")

	cfg, err := Parse([]byte(`records:
  backend: sql
  database: main
databases:
  main:
    driver: sqlite
    database: factoid.db
`))
	require.NoError(t, err)

	db, ok := cfg.GetDatabase("main")
	require.True(t, ok)
	assert.Equal(t, "sqlite3", db.DriverName())
	assert.Equal(t, "factoid.db", db.DSN())
}

func TestParse_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad port":      "server:\n  port: 99999\n",
		"bad sink":      "telemetry:\n  sinks: [statsd]\n",
		"bad backend":   "records:\n  backend: mongo\n",
		"bad budget":    "budgets:\n  profiles:\n    anonymous: -1\n",
		"bad db driver": "records:\n  backend: sql\n  database: m\ndatabases:\n  m:\n    driver: oracle\n    database: x\n",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(yaml))
			assert.Error(t, err)
		})
	}
}

func TestDatabaseConfig_PostgresDSN(t *testing.T) {
	db := &DatabaseConfig{
		Driver:   "postgres",
		Host:     "db.internal",
		Database: "factoids",
		Username: "svc",
		Password: "hunter2",
	}
	db.SetDefaults()
	require.NoError(t, db.Validate())

	assert.Equal(t, 5432, db.Port)
	assert.Equal(t,
		"host=db.internal port=5432 dbname=factoids user=svc password=hunter2 sslmode=disable",
		db.DSN())
}

func TestRedisConfig_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`redis:
  addr: localhost:6379
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Redis)

	assert.Equal(t, 5*time.Second, cfg.Redis.DialTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Redis.OpTimeout)
}

func TestBudgetConfig_Disabled(t *testing.T) {
	cfg, err := Parse([]byte(`budgets:
  enabled: false
`))
	require.NoError(t, err)
	assert.False(t, cfg.Budgets.IsEnabled())
}
