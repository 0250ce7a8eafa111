// Package config reads the sniffer's INI style configuration file and
// resolves it, together with command line overrides, into Settings.
//
// The file format is
//
//	# comment
//	[section]
//	option = value
//	option: value
//
// Section and option names are case insensitive for lookup. Options that
// appear before the first section are ignored.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"logicsniffer/pkg/errors"
)

// Config is a parsed configuration file with access tracking, so unknown
// sections and options can be reported.
type Config struct {
	mu       sync.RWMutex
	path     string
	sections map[string]*Section
	order    []string
	accessed map[string]struct{}
}

// New creates an empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
		accessed: make(map[string]struct{}),
	}
}

// Load reads a configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigSection, fmt.Sprintf("unable to open %s: %v", path, err))
	}
	defer f.Close()

	c := New()
	c.path = path
	if err := c.parse(f); err != nil {
		return nil, err
	}
	logger.Debug("loaded %s, sections %v", path, c.SectionNames())
	return c, nil
}

// LoadString parses a configuration held in memory.
func LoadString(data string) (*Config, error) {
	c := New()
	if err := c.parse(strings.NewReader(data)); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the file the configuration was read from, if any.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) parse(r io.Reader) error {
	var cur *Section
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return errors.New(errors.ErrConfigSection, fmt.Sprintf("unterminated section header at line %d", lineNum))
			}
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				return errors.New(errors.ErrConfigSection, fmt.Sprintf("empty section header at line %d", lineNum))
			}
			cur = c.section(name)
			continue
		}
		if cur == nil {
			continue
		}

		sep := strings.IndexAny(line, "=:")
		if sep <= 0 {
			return errors.New(errors.ErrConfigOption, fmt.Sprintf("expected 'option = value' at line %d", lineNum)).
				SetSection(cur.name)
		}
		cur.set(strings.TrimSpace(line[:sep]), strings.TrimSpace(line[sep+1:]))
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, errors.ErrConfigSection, fmt.Sprintf("read error: %v", err))
	}
	return nil
}

// section returns the named section, creating it on first use. A section
// that appears twice is merged, later values winning.
func (c *Config) section(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := strings.ToLower(name)
	if s, ok := c.sections[key]; ok {
		return s
	}
	s := newSection(name)
	c.sections[key] = s
	c.order = append(c.order, key)
	return s
}

// GetSectionOptional returns a section or nil.
func (c *Config) GetSectionOptional(name string) *Section {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := strings.ToLower(name)
	s, ok := c.sections[key]
	if !ok {
		return nil
	}
	c.accessed[key] = struct{}{}
	return s
}

// SectionNames returns the section names in file order.
func (c *Config) SectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.sections[key].name)
	}
	return out
}

// Unused returns "section" and "section.option" entries that were never
// read, sorted.
func (c *Config) Unused() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for key, s := range c.sections {
		if _, ok := c.accessed[key]; !ok {
			out = append(out, s.name)
			continue
		}
		for _, opt := range s.UnusedOptions() {
			out = append(out, s.name+"."+opt)
		}
	}
	sort.Strings(out)
	return out
}
