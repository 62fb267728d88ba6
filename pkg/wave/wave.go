// Package wave models a single NHANES two-year data collection cycle and
// prepares the local working directory that holds its converted datasets.
package wave

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FirstYear is the start year of the earliest published wave. Waves begin on
// odd years; LastYear is the start year of the latest wave this connector
// knows about.
const (
	FirstYear = 1999
	LastYear  = 2017
)

// Default remote roots. Both can be overridden per Config by the caller.
const (
	DefaultDataRoot      = "https://wwwn.cdc.gov/Nchs/Nhanes"
	DefaultMortalityRoot = "https://ftp.cdc.gov/pub/Health_Statistics/NCHS/datalinkage/linked_mortality"
)

// ErrInvalidWaveYear is returned when a year is not the start of a
// supported wave.
var ErrInvalidWaveYear = fmt.Errorf("wave start year must be an odd year between %d and %d", FirstYear, LastYear)

// DirectoryNotFoundError is returned by Setup when the caller names a local
// directory that does not exist.
type DirectoryNotFoundError struct {
	Path string
}

func (e *DirectoryNotFoundError) Error() string {
	return fmt.Sprintf("directory not found: %s", e.Path)
}

// ValidYear reports whether year starts a supported wave.
func ValidYear(year int) bool {
	return year >= FirstYear && year <= LastYear && year%2 == 1
}

// Index returns the zero-based position of the wave in the biennial
// sequence, or -1 for an unsupported year.
func Index(year int) int {
	if !ValidYear(year) {
		return -1
	}
	return (year - FirstYear) / 2
}

// Letter returns the single-letter suffix encoding the wave's position in
// the sequence: 'a' for 1999, 'b' for 2001, and so on. Some source file
// names carry this letter; the first wave's files usually do not.
func Letter(year int) (rune, error) {
	i := Index(year)
	if i < 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidWaveYear, year)
	}
	return rune('a' + i), nil
}

// Label returns the wave label, e.g. "1999_2000".
func Label(year int) string {
	return fmt.Sprintf("%d_%d", year, year+1)
}

// DirName returns the name of the per-wave subdirectory in the local data
// directory, e.g. "nhanes_1999_2000".
func DirName(year int) string {
	return "nhanes_" + Label(year)
}

// Config describes one wave: where its files live remotely and where the
// converted datasets are stored locally. A Config is created once by Setup
// and not mutated afterwards.
type Config struct {
	// DataRoot is the remote root under which the per-wave directory
	// ({start}-{end}) is listed.
	DataRoot string

	// MortalityRoot is the remote directory holding the linked mortality
	// files for every wave.
	MortalityRoot string

	// TargetDir is the absolute, slash-terminated wave working directory.
	TargetDir string

	// Label is the wave label, e.g. "1999_2000".
	Label string

	// StartYear is the first year of the wave.
	StartYear int
}

// MarshalZerologObject satisfies zerolog.LogObjectMarshaler so a Config can
// be embedded in log events.
func (c *Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("wave", c.Label)
	e.Str("dir", c.TargetDir)
}

// RemoteDir returns the remote directory for the wave's data files,
// e.g. {root}/1999-2000.
func (c *Config) RemoteDir() string {
	return fmt.Sprintf("%s/%d-%d", c.DataRoot, c.StartYear, c.StartYear+1)
}

// Setup validates the wave year, prepares the local working directory for
// the wave, and returns the wave Config. If localDir is empty a fresh
// temporary directory is allocated; otherwise localDir must already exist.
// Creating the wave subdirectory is idempotent. Setup performs no network
// I/O.
func Setup(localDir string, startYear int) (*Config, error) {
	if !ValidYear(startYear) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWaveYear, startYear)
	}

	if localDir == "" {
		dir, err := os.MkdirTemp("", "nhanes")
		if err != nil {
			return nil, err
		}
		localDir = dir
	} else if fi, err := os.Stat(localDir); err != nil || !fi.IsDir() {
		return nil, &DirectoryNotFoundError{Path: localDir}
	}

	abs, err := filepath.Abs(localDir)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(abs, DirName(startYear))
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, err
	}

	// Trailing separator so downstream joins behave the same on every
	// platform; joins still go through filepath.Join, never concatenation.
	target = filepath.ToSlash(target) + "/"

	return &Config{
		DataRoot:      DefaultDataRoot,
		MortalityRoot: DefaultMortalityRoot,
		TargetDir:     target,
		Label:         Label(startYear),
		StartYear:     startYear,
	}, nil
}
