// Package config loads and validates the declarative YAML configuration
// file of spec.md §6: a top-level backups: mapping from set name to its
// directories, exclusions, storage protocol, and per-set options.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mmp/bkv/bkerrors"
)

// Options holds the per-set toggles that control the backup pipeline.
type Options struct {
	MaxManifestVersions int  `yaml:"max_manifest_versions"`
	UseEncryption       bool `yaml:"use_encryption"`
	UseCompression      bool `yaml:"use_compression"`
}

// DefaultOptions matches original_source's DEFAULT_OPTIONS: encryption
// and compression on by default, unlimited manifest retention.
func DefaultOptions() Options {
	return Options{MaxManifestVersions: 0, UseEncryption: true, UseCompression: true}
}

// Protocol names a backend and carries its backend-specific settings.
type Protocol struct {
	Type string `yaml:"type"`

	// Local backend settings.
	Directory string `yaml:"directory,omitempty"`

	// GCS backend settings.
	Bucket                    string `yaml:"bucket,omitempty"`
	MaxUploadBytesPerSecond   int    `yaml:"max_upload_bytes_per_second,omitempty"`
	MaxDownloadBytesPerSecond int    `yaml:"max_download_bytes_per_second,omitempty"`
}

// rawBackupSet mirrors the YAML shape exactly; BackupSet below is the
// validated, compiled form consumers actually use.
type rawBackupSet struct {
	PrivateKeyFilename string   `yaml:"private_key_filename"`
	Exclusions         []string `yaml:"exclusions"`
	Directories        []string `yaml:"directories"`
	Protocol           Protocol `yaml:"protocol"`
	Options            *Options `yaml:"options"`
}

type rawConfig struct {
	Backups map[string]rawBackupSet `yaml:"backups"`
}

// BackupSet is one validated, compiled entry from the backups: mapping.
type BackupSet struct {
	Name               string
	PrivateKeyFilename string
	Exclusions         []*regexp.Regexp
	Directories        []string
	Protocol           Protocol
	Options            Options
}

// Config is the fully parsed, validated configuration file.
type Config struct {
	Sets map[string]BackupSet
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", bkerrors.ErrConfig, path, err)
	}
	return Parse(data)
}

// Parse validates already-read YAML bytes, split out from Load for
// tests that don't need a file on disk.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse yaml: %v", bkerrors.ErrConfig, err)
	}
	if len(raw.Backups) == 0 {
		return nil, fmt.Errorf("%w: no backup sets defined", bkerrors.ErrConfig)
	}

	cfg := &Config{Sets: make(map[string]BackupSet, len(raw.Backups))}
	for name, r := range raw.Backups {
		set, err := compileSet(name, r)
		if err != nil {
			return nil, err
		}
		cfg.Sets[name] = set
	}
	return cfg, nil
}

func compileSet(name string, r rawBackupSet) (BackupSet, error) {
	if len(r.Directories) == 0 {
		return BackupSet{}, fmt.Errorf("%w: backup set %q has no directories", bkerrors.ErrConfig, name)
	}
	if r.Protocol.Type == "" {
		return BackupSet{}, fmt.Errorf("%w: backup set %q has no protocol.type", bkerrors.ErrConfig, name)
	}

	opts := DefaultOptions()
	if r.Options != nil {
		opts = *r.Options
	}
	if opts.UseEncryption && r.PrivateKeyFilename == "" {
		return BackupSet{}, fmt.Errorf("%w: backup set %q has use_encryption but no private_key_filename", bkerrors.ErrConfig, name)
	}

	exclusions := make([]*regexp.Regexp, 0, len(r.Exclusions))
	for _, pattern := range r.Exclusions {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return BackupSet{}, fmt.Errorf("%w: backup set %q: invalid exclusion pattern %q: %v", bkerrors.ErrConfig, name, pattern, err)
		}
		exclusions = append(exclusions, re)
	}

	return BackupSet{
		Name:               name,
		PrivateKeyFilename: r.PrivateKeyFilename,
		Exclusions:         exclusions,
		Directories:        r.Directories,
		Protocol:           r.Protocol,
		Options:            opts,
	}, nil
}
