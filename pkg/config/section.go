package config

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"gantry-go/pkg/errors"
)

// Section is one "[name]" block of the configuration.
type Section struct {
	name    string
	options map[string]string

	mu       sync.Mutex
	accessed map[string]struct{}
}

func newSection(name string, options map[string]string) *Section {
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[strings.ToLower(k)] = v
	}
	return &Section{name: name, options: opts, accessed: make(map[string]struct{})}
}

// GetName returns the section name.
func (s *Section) GetName() string {
	return s.name
}

// raw returns the option value and marks it as read.
func (s *Section) raw(option string) (string, bool) {
	key := strings.ToLower(option)
	s.mu.Lock()
	s.accessed[key] = struct{}{}
	s.mu.Unlock()
	v, ok := s.options[key]
	return v, ok
}

// HasOption checks if an option exists in this section.
func (s *Section) HasOption(option string) bool {
	_, ok := s.options[strings.ToLower(option)]
	return ok
}

// GetUnusedOptions returns the options that were never read, sorted.
func (s *Section) GetUnusedOptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []string
	for opt := range s.options {
		if _, ok := s.accessed[opt]; !ok {
			result = append(result, opt)
		}
	}
	sort.Strings(result)
	return result
}

// lookup parses an option with conv, falling back to the first fallback
// value when the option is absent.
func lookup[T any](s *Section, option, typeName string, conv func(string) (T, error), fallback []T) (T, error) {
	var zero T
	v, ok := s.raw(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return zero, errors.ConfigOptionError(s.name, option)
	}
	out, err := conv(strings.TrimSpace(v))
	if err != nil {
		return zero, errors.ConfigTypeError(s.name, option, v, typeName, err)
	}
	return out, nil
}

// Get returns a string option value.
func (s *Section) Get(option string, fallback ...string) (string, error) {
	return lookup(s, option, "string", func(v string) (string, error) { return v, nil }, fallback)
}

// GetInt returns an integer option value.
func (s *Section) GetInt(option string, fallback ...int) (int, error) {
	return lookup(s, option, "integer", strconv.Atoi, fallback)
}

// GetFloat returns a float64 option value.
func (s *Section) GetFloat(option string, fallback ...float64) (float64, error) {
	return lookup(s, option, "float", func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	}, fallback)
}

// GetBool accepts 1/true/yes/on and 0/false/no/off.
func (s *Section) GetBool(option string, fallback ...bool) (bool, error) {
	return lookup(s, option, "boolean", parseBool, fallback)
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, strconv.ErrSyntax
}

// FloatBounds specifies bounds for GetFloatWithBounds. Nil fields are
// unchecked.
type FloatBounds struct {
	MinVal *float64 // >=
	MaxVal *float64 // <=
	Above  *float64 // >
	Below  *float64 // <
}

// Min, Max and Above build FloatBounds pointers inline.
func Min(v float64) *float64   { return &v }
func Max(v float64) *float64   { return &v }
func Above(v float64) *float64 { return &v }

// GetFloatWithBounds returns a float64 option value with bounds checking.
func (s *Section) GetFloatWithBounds(option string, b FloatBounds, fallback ...float64) (float64, error) {
	v, err := s.GetFloat(option, fallback...)
	if err != nil {
		return 0, err
	}
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	switch {
	case b.MinVal != nil && v < *b.MinVal:
		return 0, errors.ConfigValidationError(s.name, option, f(v)+" must have minimum of "+f(*b.MinVal))
	case b.MaxVal != nil && v > *b.MaxVal:
		return 0, errors.ConfigValidationError(s.name, option, f(v)+" must have maximum of "+f(*b.MaxVal))
	case b.Above != nil && v <= *b.Above:
		return 0, errors.ConfigValidationError(s.name, option, f(v)+" must be above "+f(*b.Above))
	case b.Below != nil && v >= *b.Below:
		return 0, errors.ConfigValidationError(s.name, option, f(v)+" must be below "+f(*b.Below))
	}
	return v, nil
}

// GetIntWithBounds returns an integer option value within [minVal, maxVal].
func (s *Section) GetIntWithBounds(option string, minVal, maxVal int, fallback ...int) (int, error) {
	v, err := s.GetInt(option, fallback...)
	if err != nil {
		return 0, err
	}
	if v < minVal || v > maxVal {
		return 0, errors.ConfigValidationError(s.name, option,
			strconv.Itoa(v)+" must be between "+strconv.Itoa(minVal)+" and "+strconv.Itoa(maxVal))
	}
	return v, nil
}

// GetChoice returns a string option that must be one of choices.
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
		"'"+v+"' is not a valid choice (valid: "+strings.Join(choices, ", ")+")")
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetIntList returns a comma separated list of integers.
func (s *Section) GetIntList(option string, fallback ...[]int) ([]int, error) {
	return lookup(s, option, "integer list", func(v string) ([]int, error) {
		parts := splitList(v)
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			i, err := strconv.Atoi(p)
			if err != nil {
				return nil, err
			}
			out = append(out, i)
		}
		return out, nil
	}, fallback)
}
