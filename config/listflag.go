package config

import (
	"fmt"
	"strings"
)

// listFlag is a comma separated list flag with an optional set of allowed
// values.
type listFlag struct {
	sep     string
	allowed map[string]bool
	value   string
	values  []string
}

func commaListFlag(allowed ...string) *listFlag {
	l := &listFlag{
		sep:     ",",
		allowed: make(map[string]bool),
	}

	for _, a := range allowed {
		l.allowed[a] = true
	}

	return l
}

func (l *listFlag) Set(value string) error {
	if l == nil {
		return nil
	}

	if value == "" {
		l.value = ""
		l.values = nil
		return nil
	}

	values := strings.Split(value, l.sep)
	if len(l.allowed) > 0 {
		for _, v := range values {
			if !l.allowed[v] {
				return fmt.Errorf("value not allowed: %s", v)
			}
		}
	}

	l.value = value
	l.values = values
	return nil
}

func (l *listFlag) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var value string
	if err := unmarshal(&value); err != nil {
		return err
	}

	return l.Set(value)
}

func (l *listFlag) String() string {
	if l == nil {
		return ""
	}

	return l.value
}
