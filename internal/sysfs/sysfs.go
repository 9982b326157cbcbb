// Package sysfs reads and writes the plain-text decimal nodes exposed by the
// kernel and keeps a debounce cache in front of actuator writes.
package sysfs

import (
	"os"
	"strconv"
	"strings"

	"codeberg.org/mutker/socgovd/internal/errors"
)

const filePerm = 0o644

// Exists reports whether path is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadString returns the trimmed content of path.
func ReadString(path string) (string, error) {
	errFactory := errors.New()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errFactory.Wrap(errors.ErrSensorMissing, err)
		}
		return "", errFactory.Wrap(errors.ErrActuatorRead, err)
	}

	return strings.TrimSpace(string(b)), nil
}

// ReadUint parses path as an unsigned decimal.
func ReadUint(path string) (uint64, error) {
	s, err := ReadString(path)
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.New().Wrap(errors.ErrSensorParse, err)
	}

	return v, nil
}

// ReadInt parses path as a signed decimal, e.g. a millidegree temperature.
func ReadInt(path string) (int, error) {
	s, err := ReadString(path)
	if err != nil {
		return 0, err
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New().Wrap(errors.ErrSensorParse, err)
	}

	return v, nil
}

// WriteString writes value followed by a newline to path.
func WriteString(path, value string) error {
	if err := os.WriteFile(path, []byte(value+"\n"), filePerm); err != nil {
		return errors.New().Wrap(errors.ErrActuatorWrite, err).WithData(path)
	}

	return nil
}

// WriteUint writes value as a decimal line to path.
func WriteUint(path string, value uint64) error {
	return WriteString(path, strconv.FormatUint(value, 10))
}
