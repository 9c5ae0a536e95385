package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Service owns the sinks. Apply rebuilds them; every Logger derived from the
// Service picks up the new sinks on its next event.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	file     *os.File
	filePath string

	live atomic.Pointer[zerolog.Logger]
}

// New builds a Service from cfg. A file sink that cannot be opened is
// reported on stderr and skipped; console logging still works.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	if err := s.Apply(cfg); err != nil {
		fmt.Fprintf(Stderr(), "logx: %v\n", err)
	}
	return s, Logger{svc: s}
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger {
	if zl := s.live.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply swaps level and sinks. The log file is reopened only when its path
// changes, so a reload that only touches the level keeps the handle. With no
// sink enabled, console output is used.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg

	var openErr error
	wantPath := ""
	if cfg.File.Enabled {
		wantPath = strings.TrimSpace(cfg.File.Path)
		if wantPath == "" {
			wantPath = "./wfsched.log"
		}
	}
	if wantPath != s.filePath {
		s.closeFileLocked()
		if wantPath != "" {
			f, err := os.OpenFile(wantPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				openErr = fmt.Errorf("open log file %q: %w", wantPath, err)
			} else {
				s.file, s.filePath = f, wantPath
			}
		}
	}

	var sinks []io.Writer
	if cfg.Console || s.file == nil {
		sinks = append(sinks, consoleWriter(Stderr()))
	}
	if s.file != nil {
		sinks = append(sinks, zerolog.SyncWriter(s.file))
	}
	zl := build(cfg.Level, zerolog.MultiLevelWriter(sinks...))
	s.live.Store(&zl)
	return openErr
}

func (s *Service) closeFileLocked() {
	if s.file != nil {
		_ = s.file.Close()
	}
	s.file, s.filePath = nil, ""
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.filePath = nil, ""
	return err
}

func setGlobals() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
}

func build(level string, w io.Writer) zerolog.Logger {
	lvl, ok := parseLevel(level)
	if !ok {
		lvl = LevelInfo
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

// parseLevel accepts trace, debug, info, warn/warning and error in any case.
// Empty is info.
func parseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "", "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

func ValidLevel(s string) bool {
	_, ok := parseLevel(s)
	return ok
}

func Stdout() io.Writer { return os.Stdout }
func Stderr() io.Writer { return os.Stderr }
