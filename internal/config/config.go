// Package config provides the read-only keyed view of the monitor's INI
// configuration file: four-tier precedence lookup (instance specific,
// program section, general defaults, monitor defaults) over a parsed
// gopkg.in/ini.v1 file. The monitor never mutates this store; it re-parses
// the file from scratch on every reload and builds a new Store.
package config

import (
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Store is a read-only view over a parsed configuration file.
type Store struct {
	file *ini.File
}

// Load parses the INI file at path into a new Store. It does not mutate any
// prior state on failure; the caller is expected to keep using whatever
// Store it already had.
func Load(path string) (*Store, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:        true,
		SkipUnrecognizableLines: false,
		IgnoreInlineComment:     true,
		PreserveSurroundedQuote: true,
	}, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse configuration file")
	}
	return &Store{file: f}, nil
}

// GetSectionSize returns the number of keys in the named section, and false
// if the section does not exist.
func (s *Store) GetSectionSize(name string) (int, bool) {
	sec, err := s.file.GetSection(name)
	if err != nil {
		return 0, false
	}
	return len(sec.Keys()), true
}

// HasSection reports whether the named section exists at all.
func (s *Store) HasSection(name string) bool {
	_, err := s.file.GetSection(name)
	return err == nil
}

// GetAllSections returns every section name in the file. The implicit
// DEFAULT section ini.v1 always creates is included only when it holds keys.
func (s *Store) GetAllSections() []string {
	secs := s.file.Sections()
	names := make([]string, 0, len(secs))
	for _, sec := range secs {
		if sec.Name() == ini.DefaultSection && len(sec.Keys()) == 0 {
			continue
		}
		names = append(names, sec.Name())
	}
	return names
}

// GetAllKeys returns every key name declared directly in the named section,
// in no particular order; callers that need deterministic output must sort.
func (s *Store) GetAllKeys(section string) []string {
	sec, err := s.file.GetSection(section)
	if err != nil {
		return nil
	}
	keys := sec.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.Name()
	}
	return names
}

// GetValueMulti searches the given sections in order and returns the value
// of key in the first section where it is present. This is the sole
// mechanism implementing the instance > program > general > monitor-default
// precedence rule; callers pass sections already ordered from most to least
// specific.
func (s *Store) GetValueMulti(key string, sections ...string) (string, bool) {
	for _, secName := range sections {
		sec, err := s.file.GetSection(secName)
		if err != nil {
			continue
		}
		if !sec.HasKey(key) {
			continue
		}
		return sec.Key(key).String(), true
	}
	return "", false
}
