package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmp/bkv/bkerrors"
)

const validYAML = `
backups:
  photos:
    private_key_filename: /keys/photos.pem
    exclusions:
      - '\.tmp$'
    directories:
      - /home/user/photos
    protocol:
      type: local
      directory: /mnt/backups/photos
    options:
      max_manifest_versions: 10
      use_encryption: true
      use_compression: true
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	require.Contains(t, cfg.Sets, "photos")

	set := cfg.Sets["photos"]
	assert.Equal(t, "/keys/photos.pem", set.PrivateKeyFilename)
	assert.Equal(t, []string{"/home/user/photos"}, set.Directories)
	assert.Equal(t, "local", set.Protocol.Type)
	assert.Equal(t, 10, set.Options.MaxManifestVersions)
	require.Len(t, set.Exclusions, 1)
	assert.True(t, set.Exclusions[0].MatchString("/home/user/photos/a.tmp"))
}

func TestParseRejectsEmptyBackups(t *testing.T) {
	_, err := Parse([]byte("backups: {}\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, bkerrors.ErrConfig)
}

func TestParseRejectsMissingDirectories(t *testing.T) {
	_, err := Parse([]byte(`
backups:
  x:
    protocol: {type: local}
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, bkerrors.ErrConfig)
}

func TestParseRejectsEncryptionWithoutKey(t *testing.T) {
	_, err := Parse([]byte(`
backups:
  x:
    directories: [/tmp]
    protocol: {type: local}
    options: {use_encryption: true, use_compression: false}
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, bkerrors.ErrConfig)
}

func TestParseRejectsInvalidExclusionRegex(t *testing.T) {
	_, err := Parse([]byte(`
backups:
  x:
    directories: [/tmp]
    exclusions: ['[invalid']
    protocol: {type: local}
    options: {use_encryption: false, use_compression: false}
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, bkerrors.ErrConfig)
}

func TestAcquireLockRejectsSecondConcurrentRun(t *testing.T) {
	dir := t.TempDir()
	l1, err := AcquireLock(dir, "photos")
	require.NoError(t, err)

	_, err = AcquireLock(dir, "photos")
	require.Error(t, err)
	assert.ErrorIs(t, err, bkerrors.ErrAlreadyRunning)

	require.NoError(t, l1.Release())

	l2, err := AcquireLock(dir, "photos")
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestLoadReadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Sets, "photos")
}
