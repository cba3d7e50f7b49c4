package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value is a config variable: Set parses a flag, SetValue takes a value decoded from a
// config file, and Type names the value for flag usage.
type Value interface {
	Set(s string) error
	SetValue(v interface{}) error
	String() string
	Type() string
}

// choiceValue is a string which must be one of choices.
type choiceValue struct {
	s       *string
	choices []string
}

func (cv choiceValue) Set(s string) error {
	for _, c := range cv.choices {
		if s == c {
			*cv.s = s
			return nil
		}
	}
	return fmt.Errorf("%s is not one of %s", s, strings.Join(cv.choices, ", "))
}

func (cv choiceValue) SetValue(v interface{}) error {
	sv, ok := v.(string)
	if !ok {
		return fmt.Errorf("parsing %v: invalid syntax", v)
	}
	return cv.Set(sv)
}

func (cv choiceValue) String() string {
	if cv.s == nil {
		return ""
	}
	return *cv.s
}

func (_ choiceValue) Type() string {
	return "string"
}

type intValue int

func (i *intValue) Set(s string) error {
	v, err := strconv.ParseInt(s, 0, strconv.IntSize)
	*i = intValue(v)
	return err
}

func (i *intValue) SetValue(v interface{}) error {
	iv, ok := v.(int)
	if !ok {
		return fmt.Errorf("parsing %v: invalid syntax", v)
	}
	*i = intValue(iv)
	return nil
}

func (i *intValue) String() string {
	return strconv.Itoa(int(*i))
}

func (_ *intValue) Type() string {
	return "int"
}

type int64Value int64

func (i *int64Value) Set(s string) error {
	v, err := strconv.ParseInt(s, 0, 64)
	*i = int64Value(v)
	return err
}

func (i *int64Value) SetValue(v interface{}) error {
	iv, ok := v.(int)
	if !ok {
		return fmt.Errorf("parsing %v: invalid syntax", v)
	}
	*i = int64Value(iv)
	return nil
}

func (i *int64Value) String() string {
	return strconv.FormatInt(int64(*i), 10)
}

func (_ *int64Value) Type() string {
	return "int64"
}

type stringValue string

func (s *stringValue) Set(val string) error {
	*s = stringValue(val)
	return nil
}

func (s *stringValue) SetValue(v interface{}) error {
	sv, ok := v.(string)
	if !ok {
		return fmt.Errorf("parsing %v: invalid syntax", v)
	}
	return s.Set(sv)
}

func (s *stringValue) String() string {
	return string(*s)
}

func (_ *stringValue) Type() string {
	return "string"
}

type durationValue time.Duration

func (d *durationValue) Set(s string) error {
	v, err := time.ParseDuration(s)
	*d = durationValue(v)
	return err
}

// SetValue takes either a duration string or a number of seconds.
func (d *durationValue) SetValue(v interface{}) error {
	switch dv := v.(type) {
	case string:
		return d.Set(dv)
	case int:
		*d = durationValue(time.Duration(dv) * time.Second)
		return nil
	}
	return fmt.Errorf("parsing %v: invalid syntax", v)
}

func (d *durationValue) String() string {
	return (*time.Duration)(d).String()
}

func (_ *durationValue) Type() string {
	return "duration"
}
