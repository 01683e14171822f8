package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, srcDir, storageDir string, useEncryption bool, keyPath string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "bkv.yaml")
	yaml := fmt.Sprintf(`
backups:
  testset:
    private_key_filename: %q
    directories: [%q]
    protocol: {type: local, directory: %q}
    options: {use_encryption: %v, use_compression: true}
`, keyPath, srcDir, storageDir, useEncryption)
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0600))
	return cfgPath
}

func TestBackupRestoreEndToEnd(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello world"), 0644))

	storageDir := t.TempDir()
	destDir := t.TempDir()
	configPath = writeTestConfig(t, srcDir, storageDir, false, "")

	rootCmd.SetArgs([]string{"backup", "--name", "testset"})
	require.NoError(t, Execute())

	rootCmd.SetArgs([]string{"restore", "--name", "testset", "--dest", destDir, "--yes", ".*"})
	require.NoError(t, Execute())

	restored := filepath.Join(destDir, srcDir, "a.txt")
	data, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestBackupTwiceThenRestoreAtEarlierTime(t *testing.T) {
	srcDir := t.TempDir()
	filePath := filepath.Join(srcDir, "a.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("version one of the file contents, long enough for a diff"), 0644))

	storageDir := t.TempDir()
	configPath = writeTestConfig(t, srcDir, storageDir, false, "")

	rootCmd.SetArgs([]string{"backup", "--name", "testset"})
	require.NoError(t, Execute())
	midpoint := strconv.FormatInt(time.Now().UnixNano(), 10)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, os.WriteFile(filePath, []byte("version two of the file contents, also long enough for a diff"), 0644))
	rootCmd.SetArgs([]string{"backup", "--name", "testset"})
	require.NoError(t, Execute())

	destDir := t.TempDir()
	rootCmd.SetArgs([]string{"restore", "--name", "testset", "--dest", destDir, "--before", midpoint, "--yes", ".*"})
	require.NoError(t, Execute())

	restored := filepath.Join(destDir, filePath)
	data, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.Equal(t, "version one of the file contents, long enough for a diff", string(data))
}

func TestListRunsWithoutError(t *testing.T) {
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.txt"), []byte("hello"), 0644))

	storageDir := t.TempDir()
	configPath = writeTestConfig(t, srcDir, storageDir, false, "")

	rootCmd.SetArgs([]string{"backup", "--name", "testset"})
	require.NoError(t, Execute())

	rootCmd.SetArgs([]string{"list", "--name", "testset", ".*"})
	require.NoError(t, Execute())
}

func TestBackupRequiresNameFlag(t *testing.T) {
	rootCmd.SetArgs([]string{"backup"})
	err := Execute()
	require.Error(t, err)
}

func TestBackupFailsForUnknownSet(t *testing.T) {
	srcDir := t.TempDir()
	storageDir := t.TempDir()
	configPath = writeTestConfig(t, srcDir, storageDir, false, "")

	rootCmd.SetArgs([]string{"backup", "--name", "nosuchset"})
	err := Execute()
	require.Error(t, err)
}
