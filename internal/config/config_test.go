package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "")
	t.Setenv("HTTP_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.Storage.Backend)
	assert.Equal(t, 8086, cfg.Server.Port)
	assert.Equal(t, "notifications.procurement", cfg.NATS.SubjectPrefix)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "mysql")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsSamePorts(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("GRPC_PORT", "9000")

	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "proc", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/proc?sslmode=disable", d.DSN())
}

func TestParseSeed(t *testing.T) {
	data := []byte(`
projects:
  - id: "1"
    name: Plant expansion
bands:
  - project_id: "1"
    approval_level: 1
    threshold_min: 0
    threshold_max: 5000
    approver_role: procurement
  - project_id: "1"
    approval_level: 2
    threshold_min: "5000"
    threshold_max: "25000.50"
    approver_role: approver
    inactive: true
`)

	seed, err := ParseSeed(data)
	require.NoError(t, err)
	require.Len(t, seed.Projects, 1)
	require.Len(t, seed.Bands, 2)

	max, err := seed.Bands[1].Max()
	require.NoError(t, err)
	assert.Equal(t, "25000.5", max.String())
	assert.True(t, seed.Bands[1].Inactive)
}

func TestParseSeed_InvalidAmount(t *testing.T) {
	data := []byte(`
bands:
  - project_id: "1"
    approval_level: 1
    threshold_min: lots
    threshold_max: 10
    approver_role: procurement
`)

	_, err := ParseSeed(data)
	assert.ErrorContains(t, err, "threshold_min")
}
