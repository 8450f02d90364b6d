// Copyright 2024 The daosync Authors
// This file is part of the daosync library.
//
// The daosync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The daosync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the daosync library. If not, see <http://www.gnu.org/licenses/>.

package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/naoina/toml"
	"github.com/pkg/errors"
)

const (
	DefaultBlockCreationInterval = 6 * time.Second
	DefaultChallengeLifetime     = 5 * time.Minute
	DefaultMaxLogoSize           = 2 * 1024 * 1024
	DefaultListenAddr            = ":8000"
)

// DefaultRetryDelays is the backoff schedule applied to chain RPC faults.
var DefaultRetryDelays = []time.Duration{
	5 * time.Second, 10 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second,
}

// HashAlgorithms is the closed set of accepted ENCRYPTION_ALGORITHM values.
var HashAlgorithms = []string{"sha256", "sha512", "sha3_256", "blake2b_256"}

// UploadDrivers is the closed set of accepted FILE_UPLOAD_CLASS values.
var UploadDrivers = []string{"s3", "local"}

// LogoSize is a named logo rendition in pixels.
type LogoSize struct {
	Width  int
	Height int
}

// Config carries every knob recognized by the service. Values come from the
// environment, optionally overridden by a TOML file.
type Config struct {
	BlockchainURL      string
	TypeRegistryPreset string

	BlockCreationInterval time.Duration
	RetryDelays           []time.Duration

	EncryptionAlgorithm string
	FileUploadClass     string
	ChallengeLifetime   time.Duration
	LogoSizes           map[string]LogoSize
	MaxLogoSize         int64

	DepositToCreateDao      uint64
	DepositToCreateProposal uint64

	DatabaseDSN  string
	RedisURL     string
	KafkaBrokers []string
	ListenAddr   string
}

// FromEnv builds a Config from the process environment, filling in defaults
// for everything unset.
func FromEnv() (*Config, error) {
	cfg := &Config{
		BlockchainURL:         envOr("BLOCKCHAIN_URL", "ws://127.0.0.1:9944"),
		TypeRegistryPreset:    envOr("TYPE_REGISTRY_PRESET", "development"),
		BlockCreationInterval: DefaultBlockCreationInterval,
		RetryDelays:           DefaultRetryDelays,
		EncryptionAlgorithm:   envOr("ENCRYPTION_ALGORITHM", "sha3_256"),
		FileUploadClass:       envOr("FILE_UPLOAD_CLASS", "s3"),
		ChallengeLifetime:     DefaultChallengeLifetime,
		MaxLogoSize:           DefaultMaxLogoSize,
		DatabaseDSN:           envOr("DATABASE_DSN", "daosync:daosync@/daosync?charset=utf8&parseTime=True"),
		RedisURL:              envOr("REDIS_URL", "127.0.0.1:6379"),
		ListenAddr:            envOr("LISTEN_ADDR", DefaultListenAddr),
		LogoSizes: map[string]LogoSize{
			"small":  {32, 32},
			"medium": {128, 128},
			"large":  {512, 512},
		},
	}

	if v := os.Getenv("BLOCK_CREATION_INTERVAL"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "invalid BLOCK_CREATION_INTERVAL")
		}
		cfg.BlockCreationInterval = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("RETRY_DELAYS"); v != "" {
		delays, err := parseRetryDelays(v)
		if err != nil {
			return nil, err
		}
		cfg.RetryDelays = delays
	}
	if v := os.Getenv("CHALLENGE_LIFETIME"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "invalid CHALLENGE_LIFETIME")
		}
		cfg.ChallengeLifetime = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("MAX_LOGO_SIZE"); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid MAX_LOGO_SIZE")
		}
		cfg.MaxLogoSize = size
	}
	if v := os.Getenv("LOGO_SIZES"); v != "" {
		sizes, err := parseLogoSizes(v)
		if err != nil {
			return nil, err
		}
		cfg.LogoSizes = sizes
	}
	if v := os.Getenv("DEPOSIT_TO_CREATE_DAO"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid DEPOSIT_TO_CREATE_DAO")
		}
		cfg.DepositToCreateDao = n
	}
	if v := os.Getenv("DEPOSIT_TO_CREATE_PROPOSAL"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "invalid DEPOSIT_TO_CREATE_PROPOSAL")
		}
		cfg.DepositToCreateProposal = n
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = strings.Split(v, ",")
	}

	return cfg, nil
}

// tomlConfig mirrors Config with file-friendly scalar types.
type tomlConfig struct {
	BlockchainURL           string
	TypeRegistryPreset      string
	BlockCreationInterval   int64
	RetryDelays             []int64
	EncryptionAlgorithm     string
	FileUploadClass         string
	ChallengeLifetime       int64
	MaxLogoSize             int64
	DepositToCreateDao      uint64
	DepositToCreateProposal uint64
	DatabaseDSN             string
	RedisURL                string
	KafkaBrokers            []string
	ListenAddr              string
}

// ApplyFile overlays values from a TOML file onto cfg. Zero values in the
// file leave the existing setting untouched.
func (cfg *Config) ApplyFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open config file %s", path)
	}
	defer f.Close()

	var fc tomlConfig
	if err := toml.NewDecoder(f).Decode(&fc); err != nil {
		return errors.Wrapf(err, "cannot decode config file %s", path)
	}

	if fc.BlockchainURL != "" {
		cfg.BlockchainURL = fc.BlockchainURL
	}
	if fc.TypeRegistryPreset != "" {
		cfg.TypeRegistryPreset = fc.TypeRegistryPreset
	}
	if fc.BlockCreationInterval > 0 {
		cfg.BlockCreationInterval = time.Duration(fc.BlockCreationInterval) * time.Second
	}
	if len(fc.RetryDelays) > 0 {
		cfg.RetryDelays = cfg.RetryDelays[:0]
		for _, s := range fc.RetryDelays {
			cfg.RetryDelays = append(cfg.RetryDelays, time.Duration(s)*time.Second)
		}
	}
	if fc.EncryptionAlgorithm != "" {
		cfg.EncryptionAlgorithm = fc.EncryptionAlgorithm
	}
	if fc.FileUploadClass != "" {
		cfg.FileUploadClass = fc.FileUploadClass
	}
	if fc.ChallengeLifetime > 0 {
		cfg.ChallengeLifetime = time.Duration(fc.ChallengeLifetime) * time.Second
	}
	if fc.MaxLogoSize > 0 {
		cfg.MaxLogoSize = fc.MaxLogoSize
	}
	if fc.DepositToCreateDao > 0 {
		cfg.DepositToCreateDao = fc.DepositToCreateDao
	}
	if fc.DepositToCreateProposal > 0 {
		cfg.DepositToCreateProposal = fc.DepositToCreateProposal
	}
	if fc.DatabaseDSN != "" {
		cfg.DatabaseDSN = fc.DatabaseDSN
	}
	if fc.RedisURL != "" {
		cfg.RedisURL = fc.RedisURL
	}
	if len(fc.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = fc.KafkaBrokers
	}
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	return nil
}

// Validate rejects configurations outside the closed option sets. A failure
// here is fatal at startup.
func (cfg *Config) Validate() error {
	if !contains(HashAlgorithms, cfg.EncryptionAlgorithm) {
		return errors.Errorf("unknown ENCRYPTION_ALGORITHM %q (accepted: %s)",
			cfg.EncryptionAlgorithm, strings.Join(HashAlgorithms, ", "))
	}
	if !contains(UploadDrivers, cfg.FileUploadClass) {
		return errors.Errorf("unknown FILE_UPLOAD_CLASS %q (accepted: %s)",
			cfg.FileUploadClass, strings.Join(UploadDrivers, ", "))
	}
	if cfg.BlockCreationInterval <= 0 {
		return errors.New("BLOCK_CREATION_INTERVAL must be positive")
	}
	if len(cfg.RetryDelays) == 0 {
		return errors.New("RETRY_DELAYS must not be empty")
	}
	return nil
}

func parseRetryDelays(v string) ([]time.Duration, error) {
	parts := strings.Split(v, ",")
	delays := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		secs, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid RETRY_DELAYS entry %q", p)
		}
		delays = append(delays, time.Duration(secs)*time.Second)
	}
	return delays, nil
}

// parseLogoSizes parses "small:32x32,large:512x512".
func parseLogoSizes(v string) (map[string]LogoSize, error) {
	sizes := map[string]LogoSize{}
	for _, entry := range strings.Split(v, ",") {
		kv := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid LOGO_SIZES entry %q", entry)
		}
		wh := strings.SplitN(kv[1], "x", 2)
		if len(wh) != 2 {
			return nil, fmt.Errorf("invalid LOGO_SIZES entry %q", entry)
		}
		w, err := strconv.Atoi(wh[0])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid LOGO_SIZES width in %q", entry)
		}
		h, err := strconv.Atoi(wh[1])
		if err != nil {
			return nil, errors.Wrapf(err, "invalid LOGO_SIZES height in %q", entry)
		}
		sizes[kv[0]] = LogoSize{Width: w, Height: h}
	}
	return sizes, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
