package configuration

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
version: 0.1
log:
  level: debug
  fields:
    environment: test
storage:
  stagingroot: /data/staging
  publicroot: /data/public
  temproot: /data/tmp
  prefixsize: 2
  archiveversion: v2
  alwaysrestricted:
    - "*/POTCAR"
ingest:
  auxfilecutoff: 50
`

func TestParseSampleConfig(t *testing.T) {
	cfg, err := Parse(bytes.NewBufferString(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "/data/staging", cfg.Storage.StagingRoot)
	assert.Equal(t, "/data/public", cfg.Storage.PublicRoot)
	assert.Equal(t, 2, cfg.Storage.PrefixSize)
	assert.Equal(t, "v2", cfg.Storage.ArchiveVersion)
	assert.Equal(t, []string{"*/POTCAR"}, cfg.Storage.AlwaysRestricted)
	assert.Equal(t, 50, cfg.Ingest.AuxFileCutoff)
	assert.Equal(t, Loglevel("debug"), cfg.Log.Level)
}

func TestParseAppliesDefaults(t *testing.T) {
	const minimal = `
version: 0.1
storage:
  stagingroot: /data/staging
  publicroot: /data/public
`
	cfg, err := Parse(bytes.NewBufferString(minimal))
	require.NoError(t, err)
	assert.Equal(t, Loglevel("info"), cfg.Log.Level, "default Log.Level")
	assert.Equal(t, 200, cfg.Ingest.AuxFileCutoff, "default AuxFileCutoff")
}

func TestParseMissingStagingRootFails(t *testing.T) {
	const bad = `
version: 0.1
storage:
  publicroot: /data/public
`
	_, err := Parse(bytes.NewBufferString(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stagingroot")
}

func TestParseUnsupportedVersionFails(t *testing.T) {
	const bad = `
version: 9.9
storage:
  stagingroot: /data/staging
  publicroot: /data/public
`
	_, err := Parse(bytes.NewBufferString(bad))
	assert.Error(t, err, "expected an unsupported-version error")
}

func TestParseInvalidLoglevelFails(t *testing.T) {
	const bad = `
version: 0.1
log:
  level: loud
storage:
  stagingroot: /data/staging
  publicroot: /data/public
`
	_, err := Parse(bytes.NewBufferString(bad))
	assert.Error(t, err, "expected an invalid loglevel error")
}
