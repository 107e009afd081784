package config

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Duration is a time.Duration configured as a string, e.g. "30s"
type Duration time.Duration

// UnmarshalText parses the duration
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration: %s", string(text))
	}
	*d = Duration(v)
	return nil
}

// MarshalText returns the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// String returns the duration as a string
func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) orDefault(def time.Duration) Duration {
	if d > 0 {
		return d
	}
	return Duration(def)
}
