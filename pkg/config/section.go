package config

import (
	"fmt"
	"strings"
	"sync"

	"logicsniffer/pkg/errors"
)

// Section is one [section] of the configuration. Option order is kept.
type Section struct {
	name string

	mu       sync.RWMutex
	options  map[string]string
	order    []string
	accessed map[string]struct{}
}

func newSection(name string) *Section {
	return &Section{
		name:     name,
		options:  make(map[string]string),
		accessed: make(map[string]struct{}),
	}
}

func (s *Section) set(option, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(option)
	if _, ok := s.options[key]; !ok {
		s.order = append(s.order, option)
	}
	s.options[key] = value
}

func (s *Section) lookup(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessed[key] = struct{}{}
	v, ok := s.options[key]
	return v, ok
}

// Options returns the option names in file order, spelled as in the file.
func (s *Section) Options() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// HasOption checks if an option exists in this section.
func (s *Section) HasOption(option string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// UnusedOptions returns options that were never read.
func (s *Section) UnusedOptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, name := range s.order {
		if _, ok := s.accessed[strings.ToLower(name)]; !ok {
			out = append(out, name)
		}
	}
	return out
}

func (s *Section) missing(option string) *errors.HostError {
	return errors.New(errors.ErrConfigOption, fmt.Sprintf("option '%s' in section '%s' must be specified", option, s.name)).
		SetSection(s.name).
		SetOption(option)
}

// Get returns a string option. If fallback is given it is returned for a
// missing option, otherwise a missing option is an error.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	if v, ok := s.lookup(option); ok {
		return v, nil
	}
	if len(fallback) > 0 {
		return fallback[0], nil
	}
	return "", s.missing(option)
}

// GetBool returns a boolean option. Accepts 1, true, yes, on and 0, false,
// no, off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	v, ok := s.lookup(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return false, s.missing(option)
	}
	b, err := ParseBool(v)
	if err != nil {
		return false, errors.ConfigTypeError(s.name, option, v, "boolean", err)
	}
	return b, nil
}

// GetChoice returns an option that must be one of choices.
func (s *Section) GetChoice(option string, choices []string, fallback ...string) (string, error) {
	v, err := s.Get(option, fallback...)
	if err != nil {
		return "", err
	}
	for _, c := range choices {
		if strings.EqualFold(v, c) {
			return c, nil
		}
	}
	return "", errors.ConfigValidationError(s.name, option,
		fmt.Sprintf("'%s' is not a valid choice (valid: %s)", v, strings.Join(choices, ", ")))
}
