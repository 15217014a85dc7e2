package config

import (
	"strconv"
	"strings"

	"gantry-go/pkg/errors"
)

// Pin is a digital line on the I/O board.
type Pin struct {
	Index  int
	Invert bool // "!" prefix
	Pullup bool // "^" prefix
}

// ParsePin parses "[^][!]index", e.g. "5", "!17", "^!16". An optional
// "io:" board prefix is accepted for symmetry with the driver channels.
func ParsePin(desc string) (Pin, error) {
	d := strings.TrimSpace(desc)
	var p Pin
	for len(d) > 0 && (d[0] == '^' || d[0] == '!') {
		if d[0] == '^' {
			p.Pullup = true
		} else {
			p.Invert = true
		}
		d = strings.TrimSpace(d[1:])
	}
	d = strings.TrimPrefix(d, "io:")
	idx, err := strconv.Atoi(d)
	if err != nil || idx < 0 {
		return Pin{}, errors.Newf(errors.ErrConfigValidation, "invalid pin specification %q", desc)
	}
	p.Index = idx
	return p, nil
}

// GetPin returns a pin option value.
func (s *Section) GetPin(option string, fallback ...Pin) (Pin, error) {
	v, ok := s.raw(option)
	if !ok {
		if len(fallback) > 0 {
			return fallback[0], nil
		}
		return Pin{}, errors.ConfigOptionError(s.name, option)
	}
	p, err := ParsePin(v)
	if err != nil {
		return Pin{}, errors.Wrap(err, errors.ErrConfigValidation, "bad pin").SetSection(s.name).SetOption(option)
	}
	return p, nil
}

// ParsePinList parses a comma separated list of pins.
func ParsePinList(spec string) ([]Pin, error) {
	var pins []Pin
	for _, part := range splitList(spec) {
		p, err := ParsePin(part)
		if err != nil {
			return nil, err
		}
		pins = append(pins, p)
	}
	return pins, nil
}

// GetPinList returns a comma separated list of pins, or the parsed fallback
// spec when the option is absent.
func (s *Section) GetPinList(option string, fallback string) ([]Pin, error) {
	v, ok := s.raw(option)
	if !ok {
		v = fallback
	}
	pins, err := ParsePinList(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigValidation, "bad pin list").SetSection(s.name).SetOption(option)
	}
	return pins, nil
}
