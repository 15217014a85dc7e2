// Package config reads the machine configuration file: INI-style
// "[section]" headers with "key: value" options, "#" comments and
// "[include file.cfg]" directives. Option access is tracked so that typos in
// the file surface as unused options instead of silently falling back to
// defaults.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gantry-go/pkg/errors"
)

// Config is a parsed configuration file.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string

	accessedSections map[string]struct{}
}

// New creates a new empty Config.
func New() *Config {
	return &Config{
		sections:         make(map[string]*Section),
		accessedSections: make(map[string]struct{}),
	}
}

// Load reads a configuration file, following include directives relative
// to the including file.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.parseFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses a configuration from a string. Include directives are
// rejected since there is no base directory.
func LoadString(data string) (*Config, error) {
	c := New()
	p := &parser{cfg: c, source: "<string>"}
	if err := p.parse(strings.NewReader(data)); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigSection, "invalid path "+path)
	}
	if visited[abs] {
		return errors.New(errors.ErrConfigSection, "recursive include: "+path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigSection, "unable to open "+path)
	}
	defer f.Close()

	p := &parser{
		cfg:    c,
		source: path,
		include: func(spec string) error {
			pattern := filepath.Join(filepath.Dir(abs), spec)
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return errors.Wrap(err, errors.ErrConfigSection, "invalid include pattern "+spec)
			}
			if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
				return errors.New(errors.ErrConfigSection, "include file does not exist: "+pattern)
			}
			sort.Strings(matches)
			for _, m := range matches {
				if err := c.parseFile(m, visited); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return p.parse(f)
}

// parser turns lines into sections. include is nil when includes are not
// supported by the source.
type parser struct {
	cfg     *Config
	source  string
	include func(spec string) error

	section string
	options map[string]string
}

func (p *parser) flush() {
	if p.section != "" {
		p.cfg.addSection(p.section, p.options)
	}
	p.section = ""
	p.options = nil
}

func (p *parser) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			p.flush()
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return errors.Newf(errors.ErrConfigSection, "empty section header at %s:%d", p.source, lineNum)
			}
			if spec, ok := strings.CutPrefix(header, "include "); ok {
				spec = strings.TrimSpace(spec)
				if p.include == nil || spec == "" {
					return errors.Newf(errors.ErrConfigSection, "unsupported include at %s:%d", p.source, lineNum)
				}
				if err := p.include(spec); err != nil {
					return err
				}
				continue
			}
			p.section = header
			p.options = make(map[string]string)
			continue
		}
		if p.section == "" {
			continue
		}

		key, value, ok := splitOption(line)
		if !ok {
			return errors.Newf(errors.ErrConfigOption, "malformed option %q at %s:%d", line, p.source, lineNum).
				SetSection(p.section)
		}
		p.options[key] = value
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, errors.ErrConfigSection, "error reading "+p.source)
	}
	p.flush()
	return nil
}

// splitOption accepts "key: value" and "key = value", whichever separator
// comes first.
func splitOption(line string) (string, string, bool) {
	idx := strings.IndexAny(line, ":=")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.TrimSpace(line[:idx])
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}

// addSection adds a section, merging options into an existing one.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns a Section by name, or error if not found.
func (c *Config) GetSection(name string) (*Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec, ok := c.sections[name]
	if !ok {
		return nil, errors.ConfigSectionError(name)
	}
	c.accessedSections[name] = struct{}{}
	return sec, nil
}

// GetSectionOptional returns a Section if it exists. A missing section
// yields an empty one so that every getter falls back to its default.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec, ok := c.sections[name]
	if !ok {
		return newSection(name, nil)
	}
	c.accessedSections[name] = struct{}{}
	return sec
}

// HasSection checks if a section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[name]
	return ok
}

// GetSectionNames returns all section names in file order.
func (c *Config) GetSectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]string, len(c.order))
	copy(result, c.order)
	return result
}

// GetUnusedSections returns the sections that were never read.
func (c *Config) GetUnusedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var result []string
	for name := range c.sections {
		if _, ok := c.accessedSections[name]; !ok {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// CheckUnused returns an error naming every unread section and option.
func (c *Config) CheckUnused() error {
	var problems []string
	if unused := c.GetUnusedSections(); len(unused) > 0 {
		problems = append(problems, fmt.Sprintf("unused sections %v", unused))
	}
	c.mu.RLock()
	for _, name := range c.order {
		if _, ok := c.accessedSections[name]; !ok {
			continue
		}
		if unused := c.sections[name].GetUnusedOptions(); len(unused) > 0 {
			problems = append(problems, fmt.Sprintf("[%s]: unused options %v", name, unused))
		}
	}
	c.mu.RUnlock()
	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.ErrConfigValidation, strings.Join(problems, "; "))
}
