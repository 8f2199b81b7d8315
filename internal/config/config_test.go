package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  name: facerec
  user: facerec
  password: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 0.75, cfg.Recognition.VerifyThreshold)
	assert.Equal(t, 0.12, cfg.Recognition.IdentifyMargin)
	assert.Equal(t, 512, cfg.Recognition.EmbeddingDim)
	assert.Equal(t, IndexPgvector, cfg.Recognition.Index)
	assert.Equal(t, 5*time.Minute, cfg.Recognition.RebuildInterval)
	assert.Equal(t, 4, cfg.Recognition.WorkerCount)
	assert.Equal(t, 30*time.Second, cfg.Attendance.MinDwell)
	assert.Equal(t, "UTC", cfg.Attendance.Timezone)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadExplicitValuesWin(t *testing.T) {
	path := writeConfig(t, `
recognition:
  verify_threshold: 0.82
  identify_margin: 0.05
  embedding_dim: 128
  index: hnsw
attendance:
  min_dwell: 2m
  timezone: Europe/Berlin
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.82, cfg.Recognition.VerifyThreshold)
	assert.Equal(t, 0.05, cfg.Recognition.IdentifyMargin)
	assert.Equal(t, 128, cfg.Recognition.EmbeddingDim)
	assert.Equal(t, IndexHNSW, cfg.Recognition.Index)
	assert.Equal(t, 2*time.Minute, cfg.Attendance.MinDwell)

	loc := cfg.Attendance.Location()
	require.NotNil(t, loc)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FACEREC_VERIFY_THRESHOLD", "0.9")
	t.Setenv("FACEREC_DB_HOST", "db.internal")
	t.Setenv("FACEREC_API_KEY", "sekrit")

	path := writeConfig(t, `
database:
  host: localhost
recognition:
  verify_threshold: 0.7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Recognition.VerifyThreshold)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "sekrit", cfg.Server.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"threshold above one", "recognition:\n  verify_threshold: 1.5\n"},
		{"negative margin", "recognition:\n  identify_margin: -0.1\n"},
		{"margin of one", "recognition:\n  identify_margin: 1.0\n"},
		{"unknown index", "recognition:\n  index: flat\n"},
		{"negative dwell", "attendance:\n  min_dwell: -5s\n"},
		{"bad timezone", "attendance:\n  timezone: Mars/Olympus\n"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	t.Parallel()

	d := DatabaseConfig{Host: "db", Port: 5433, Name: "att", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5433/att?sslmode=disable", d.DSN())
}
