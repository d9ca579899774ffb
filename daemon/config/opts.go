package config

import (
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
)

// Duration is a time.Duration that reads and writes Go duration strings
// ("30s", "1m30s") in flags and configuration files.
type Duration time.Duration

// Set implements pflag.Value.
func (d *Duration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) String() string {
	return time.Duration(*d).String()
}

// Type implements pflag.Value.
func (*Duration) Type() string {
	return "duration"
}

// UnmarshalText decodes duration strings from configuration files.
func (d *Duration) UnmarshalText(b []byte) error {
	return d.Set(string(b))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ByteSize is a size in bytes given as a human readable value such as
// "8KiB", "16k" or "4096".
type ByteSize int64

// Set implements pflag.Value.
func (b *ByteSize) Set(s string) error {
	v, err := units.RAMInBytes(s)
	if err != nil {
		return errors.Wrapf(err, "invalid size %q", s)
	}
	*b = ByteSize(v)
	return nil
}

func (b *ByteSize) String() string {
	return units.BytesSize(float64(*b))
}

// Type implements pflag.Value.
func (*ByteSize) Type() string {
	return "bytes"
}

// UnmarshalJSON accepts a plain number of bytes or a human readable string.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*b = ByteSize(n)
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return errors.Errorf("invalid size %s", data)
	}
	return b.Set(s)
}

// MarshalJSON implements json.Marshaler.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(b), 10)), nil
}
