// Package thresholds persists the operator thresholds in a small config file
// so they survive restarts.
package thresholds

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"codeberg.org/mutker/hubctl/internal/errors"
	"codeberg.org/mutker/hubctl/internal/logger"
	"codeberg.org/mutker/hubctl/internal/policy"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const defaultType = "json"

// Store reads and writes a flat name -> number mapping. The format follows
// the file extension; files without one are JSON.
type Store struct {
	path string
	log  logger.Logger
	mu   sync.Mutex
}

func NewStore(path string, log logger.Logger) *Store {
	if log == nil {
		log = logger.New("thresholds")
	}

	return &Store{path: path, log: log}
}

func (s *Store) Path() string { return s.path }

// Load returns the persisted thresholds on top of the defaults. A missing or
// unreadable file yields the defaults; entries that are not known threshold
// metrics or not finite numbers are skipped.
func (s *Store) Load() policy.Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()

	th := policy.DefaultThresholds()

	v := s.viper(s.path)
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) || errors.As(err, new(viper.ConfigFileNotFoundError)) {
			s.log.Info().Str("path", s.path).Msg("No thresholds file, using defaults")
			return th
		}
		s.log.Warn().Err(err).Str("path", s.path).Msg("Unreadable thresholds file, using defaults")
		return th
	}

	for _, key := range v.AllKeys() {
		if !policy.IsThresholdMetric(key) {
			s.log.Warn().Str("key", key).Msg("Ignoring unknown threshold")
			continue
		}

		value, err := cast.ToFloat64E(v.Get(key))
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			s.log.Warn().Str("key", key).Interface("value", v.Get(key)).Msg("Ignoring invalid threshold")
			continue
		}

		th[key] = value
	}

	s.log.Debug().Interface("thresholds", th).Str("path", s.path).Msg("Loaded thresholds")

	return th
}

// Save replaces the file with th. The write goes to a sibling file first and
// is renamed into place.
func (s *Store) Save(th policy.Thresholds) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.New().Wrap(errors.ErrPersistState, err)
	}

	ext := filepath.Ext(s.path)
	if ext == "" {
		ext = "." + defaultType
	}
	tmp := strings.TrimSuffix(s.path, filepath.Ext(s.path)) + ".tmp" + ext

	v := s.viper(tmp)
	for name, value := range th {
		v.Set(name, value)
	}

	if err := v.WriteConfigAs(tmp); err != nil {
		return errors.New().Wrap(errors.ErrPersistState, err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.New().Wrap(errors.ErrPersistState, err)
	}

	return nil
}

func (s *Store) viper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType(defaultType)
	}

	return v
}
