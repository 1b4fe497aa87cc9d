// Package rtcxml reads and writes control groups as RTC-Tools configuration
// files: rtcToolsConfig.xml with rules and triggers, rtcDataConfig.xml with
// the exchanged series, timeseries_import.xml with PI-XML schedules and
// state_import.xml with output initial values.
//
// Every document is checked against an embedded JSON schema of its XML
// infoset. Reads report schema violations, undecodable elements and
// unknown content as diagnostics and keep going. Only a missing directory
// and a missing or unparsable rtcToolsConfig.xml are fatal.
package rtcxml

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/liamcoop/rtc/rtcerr"
	"github.com/liamcoop/rtc/rules"
)

// Bundle holds the four exchange documents in memory. Optional documents
// are nil when absent.
type Bundle struct {
	ToolsConfig []byte `json:"toolsConfig"`
	DataConfig  []byte `json:"dataConfig,omitempty"`
	TimeSeries  []byte `json:"timeSeries,omitempty"`
	State       []byte `json:"state,omitempty"`
}

// Codec converts control groups to and from exchange documents
type Codec struct {
	logger  *slog.Logger
	observe func(Diagnostic)
}

// Option configures a Codec
type Option func(*Codec)

// WithLogger sets the logger diagnostics are written to
func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers a function called for every diagnostic
func WithObserver(fn func(Diagnostic)) Option {
	return func(c *Codec) { c.observe = fn }
}

// New creates a codec. Without options it logs to slog.Default().
func New(opts ...Option) *Codec {
	c := &Codec{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Read decodes the configuration directory dir using a default codec
func Read(dir string) ([]*rules.ControlGroup, Diagnostics, error) {
	return New().Read(dir)
}

// Write encodes groups into dir using a default codec
func Write(groups []*rules.ControlGroup, dir string) error {
	return New().Write(groups, dir)
}

// Read decodes the configuration directory dir. A missing directory fails
// with rtcerr.ErrDirectoryNotFound and yields no groups.
func (c *Codec) Read(dir string) ([]*rules.ControlGroup, Diagnostics, error) {
	if err := checkDir(dir); err != nil {
		return nil, nil, err
	}

	var b Bundle
	files := []struct {
		name string
		dst  *[]byte
	}{
		{ToolsConfigFile, &b.ToolsConfig},
		{DataConfigFile, &b.DataConfig},
		{TimeSeriesFile, &b.TimeSeries},
		{StateFile, &b.State},
	}
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f.name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", f.name, err)
		}
		*f.dst = data
	}

	c.logger.Debug("reading control configuration", "dir", dir)
	return c.DecodeBundle(&b)
}

// Write encodes groups into dir, which must exist. Empty groups are not
// written.
func (c *Codec) Write(groups []*rules.ControlGroup, dir string) error {
	if err := checkDir(dir); err != nil {
		return err
	}

	b, err := c.EncodeBundle(groups)
	if err != nil {
		return err
	}

	files := []struct {
		name string
		data []byte
	}{
		{ToolsConfigFile, b.ToolsConfig},
		{DataConfigFile, b.DataConfig},
		{TimeSeriesFile, b.TimeSeries},
		{StateFile, b.State},
	}
	for _, f := range files {
		if f.data == nil {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, f.name), f.data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}

	c.logger.Debug("wrote control configuration", "dir", dir, "groups", len(groups))
	return nil
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", dir, rtcerr.ErrDirectoryNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory: %w", dir, rtcerr.ErrDirectoryNotFound)
	}
	return nil
}

func (c *Codec) emit(d Diagnostic) {
	attrs := []any{"document", d.Document, "error", d.Err}
	if d.Subject != "" {
		attrs = append(attrs, "subject", d.Subject)
	}
	if d.Severity == SeverityError {
		c.logger.Error("control configuration diagnostic", attrs...)
	} else {
		c.logger.Warn("control configuration diagnostic", attrs...)
	}
	if c.observe != nil {
		c.observe(d)
	}
}
