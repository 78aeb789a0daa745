package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

const defaultBroker = "localhost:9092"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("OUTPUT_DIR", "/tmp/run")
	t.Setenv("PEAK_FILE", "/tmp/peaked.csv")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "curve-fit-jobs", cfg.KafkaJobTopic)
	assert.Equal(t, 50.0, cfg.DispatchRate)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, 24*time.Hour, cfg.HierarchyCacheTTL)
	assert.Equal(t, "latest", cfg.InputVersion)
	assert.Equal(t, "/tmp/run", cfg.OutputDir)
	assert.Equal(t, "/tmp/peaked.csv", cfg.PeakFile)
	assert.Empty(t, cfg.YesterdayDrawPath)
	assert.Equal(t, 20, cfg.BackcastWorkers)
	assert.Equal(t, 6*time.Hour, cfg.JobWaitTimeout)
	assert.Equal(t, 30*time.Second, cfg.JobPollInterval)

	assert.Equal(t, DefaultModelSettings(), cfg.Model)
	assert.Equal(t, -15.0, cfg.Model.LnMortalityRateThreshold)
	assert.Equal(t, []int{21}, cfg.Model.SmoothingConstants)
	assert.Equal(t, 1000, cfg.Model.TotalDraws)
	assert.Equal(t, 35, cfg.Model.LocationSetID)
	assert.Equal(t, 5, cfg.Model.RoundID)
	assert.Equal(t, domain.USA.ID, cfg.Model.ParentLocationID)
}

func TestLoad_CustomEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_JOB_TOPIC", "custom-jobs")
	t.Setenv("DISPATCH_RATE", "0")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("HIERARCHY_CACHE_TTL", "1h")
	t.Setenv("INPUT_VERSION", "2020_04_05.05")
	t.Setenv("YESTERDAY_DRAW_PATH", "/runs/y/state_data.csv")
	t.Setenv("BEFORE_YESTERDAY_DRAW_PATH", "/runs/by/state_data.csv")
	t.Setenv("BACKCAST_WORKERS", "4")
	t.Setenv("JOB_WAIT_TIMEOUT", "1h")
	t.Setenv("JOB_POLL_INTERVAL", "5s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-jobs", cfg.KafkaJobTopic)
	assert.Zero(t, cfg.DispatchRate)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, time.Hour, cfg.HierarchyCacheTTL)
	assert.Equal(t, "2020_04_05.05", cfg.InputVersion)
	assert.Equal(t, "/runs/y/state_data.csv", cfg.YesterdayDrawPath)
	assert.Equal(t, "/runs/by/state_data.csv", cfg.BeforeYesterdayDrawPath)
	assert.Equal(t, 4, cfg.BackcastWorkers)
	assert.Equal(t, time.Hour, cfg.JobWaitTimeout)
	assert.Equal(t, 5*time.Second, cfg.JobPollInterval)
}

func TestLoad_ModelSettingsEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("LN_MORTALITY_RATE_THRESHOLD", "-14.5")
	t.Setenv("COVARIATE_SETTINGS", "equal:1,1,1; ascmax:0,0,1")
	t.Setenv("SMOOTHING_CONSTANTS", "14, 21")
	t.Setenv("TOTAL_DRAWS", "100")
	t.Setenv("LOCATION_SET_ID", "111")
	t.Setenv("ROUND_ID", "6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, -14.5, cfg.Model.LnMortalityRateThreshold)
	assert.Equal(t, []domain.CovariateSetting{
		{Sort: "equal", Weights: []float64{1, 1, 1}},
		{Sort: "ascmax", Weights: []float64{0, 0, 1}},
	}, cfg.Model.CovariateSettings)
	assert.Equal(t, []int{14, 21}, cfg.Model.SmoothingConstants)
	assert.Equal(t, 100, cfg.Model.TotalDraws)
	assert.Equal(t, 111, cfg.Model.LocationSetID)
	assert.Equal(t, 6, cfg.Model.RoundID)

	confs := cfg.Model.Configurations()
	require.Len(t, confs, 4)
	assert.Equal(t, "model_data_ascmax_21", confs[3].Dir())
	assert.Equal(t, 25, confs[3].Draws)
}

func TestLoad_MissingOutputDir(t *testing.T) {
	t.Setenv("PEAK_FILE", "/tmp/peaked.csv")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OUTPUT_DIR")
}

func TestLoad_MissingPeakFile(t *testing.T) {
	t.Setenv("OUTPUT_DIR", "/tmp/run")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PEAK_FILE")
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SHUTDOWN_TIMEOUT")
}

func TestLoad_InvalidDurations(t *testing.T) {
	for _, key := range []string{"HIERARCHY_CACHE_TTL", "JOB_WAIT_TIMEOUT", "JOB_POLL_INTERVAL"} {
		t.Run(key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(key, "-1s")
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_InvalidBackcastWorkers(t *testing.T) {
	setRequired(t)
	t.Setenv("BACKCAST_WORKERS", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKCAST_WORKERS")
}

func TestLoad_InvalidDispatchRate(t *testing.T) {
	setRequired(t)
	t.Setenv("DISPATCH_RATE", "fast")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DISPATCH_RATE")
}

func TestLoad_InvalidCovariateSettings(t *testing.T) {
	setRequired(t)
	t.Setenv("COVARIATE_SETTINGS", "equal=1,1,1")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COVARIATE_SETTINGS")
}

func TestLoad_TooFewDraws(t *testing.T) {
	setRequired(t)
	t.Setenv("SMOOTHING_CONSTANTS", "7,14,21")
	t.Setenv("TOTAL_DRAWS", "8")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TotalDraws")
}

func TestModelSettings_Validate(t *testing.T) {
	m := DefaultModelSettings()
	require.NoError(t, m.Validate())

	m.LnMortalityRateThreshold = 1
	assert.Error(t, m.Validate())

	m = DefaultModelSettings()
	m.CovariateSettings = nil
	assert.Error(t, m.Validate())

	m = DefaultModelSettings()
	m.CovariateSettings = []domain.CovariateSetting{{Sort: "", Weights: []float64{1}}}
	assert.Error(t, m.Validate(), "sort name is required")

	m = DefaultModelSettings()
	m.SmoothingConstants = []int{0}
	assert.Error(t, m.Validate())
}

func TestParseCovariateSettings(t *testing.T) {
	got, err := ParseCovariateSettings("equal:1,1,1;ascmid:0.5, 1, 2;")
	require.NoError(t, err)
	assert.Equal(t, []domain.CovariateSetting{
		{Sort: "equal", Weights: []float64{1, 1, 1}},
		{Sort: "ascmid", Weights: []float64{0.5, 1, 2}},
	}, got)

	_, err = ParseCovariateSettings(":1,2")
	assert.Error(t, err)
	_, err = ParseCovariateSettings("equal:1,x")
	assert.Error(t, err)
}
