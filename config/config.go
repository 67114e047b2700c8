// Package config holds the JSON configuration of pbrpc servers and clients.
//
// Every loader starts from a complete set of defaults and applies the file on
// top of it, so a config file only needs the fields it wants to change.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// LogOptions configures the zap logger built by the logger package.
type LogOptions struct {
	Level        string `json:"level"`         // debug, info, warn, error
	ToConsole    bool   `json:"to_console"`    // write to stderr
	FilePath     string `json:"file_path"`     // empty disables file output
	MaxSize      int    `json:"max_size"`      // MB per file before rotation
	MaxBackups   int    `json:"max_backups"`   // rotated files kept
	MaxAge       int    `json:"max_age"`       // days a rotated file is kept
	Compress     bool   `json:"compress"`      // gzip rotated files
	EnableCaller bool   `json:"enable_caller"` // annotate entries with file:line
}

// ServerConfig is the configuration surface of a pbrpc server.
type ServerConfig struct {
	Network        string     `json:"network"`          // transport kind, only "tcp" today
	Port           int        `json:"port"`             // listen port, 0 picks a free one
	IOThreads      int        `json:"io_threads"`       // event loops, >= 1
	MaxFrameSize   uint32     `json:"max_frame_size"`   // bytes, 0 means unlimited
	ReadBufferSize int        `json:"read_buffer_size"` // bytes read from a socket at a time
	ErrorReplies   bool       `json:"error_replies"`    // reply with error envelopes instead of dropping
	Codec          string     `json:"codec"`            // proto or json
	HandlerTimeout Duration   `json:"handler_timeout"`  // 0 disables
	RateLimit      float64    `json:"rate_limit"`       // requests per second, 0 disables
	RateBurst      int        `json:"rate_burst"`
	MetricsAddr    string     `json:"metrics_addr"` // e.g. ":9090", empty disables
	Log            LogOptions `json:"log"`
}

// ClientConfig is the configuration surface of a pbrpc client.
type ClientConfig struct {
	Addr         string     `json:"addr"`
	DialTimeout  Duration   `json:"dial_timeout"`
	CallTimeout  Duration   `json:"call_timeout"` // 0 leaves pending calls without a deadline
	MaxFrameSize uint32     `json:"max_frame_size"`
	Codec        string     `json:"codec"`
	Log          LogOptions `json:"log"`
}

// Duration is a time.Duration that reads and writes JSON strings like "1.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// bare numbers are nanoseconds
		var n int64
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return fmt.Errorf("config: invalid duration %s", string(b))
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultLogOptions returns the logging defaults.
func DefaultLogOptions() LogOptions {
	return LogOptions{
		Level:        defaultLogLevel,
		ToConsole:    defaultToConsole,
		MaxSize:      defaultMaxSize,
		MaxBackups:   defaultMaxBackups,
		MaxAge:       defaultMaxAge,
		Compress:     defaultCompress,
		EnableCaller: defaultEnableCaller,
	}
}

// DefaultServer returns the server defaults.
func DefaultServer() *ServerConfig {
	return &ServerConfig{
		Network:        defaultNetwork,
		Port:           defaultPort,
		IOThreads:      defaultIOThreads,
		MaxFrameSize:   defaultMaxFrameSize,
		ReadBufferSize: defaultReadBuffer,
		Codec:          defaultCodec,
		RateBurst:      defaultRateBurst,
		Log:            DefaultLogOptions(),
	}
}

// DefaultClient returns the client defaults.
func DefaultClient() *ClientConfig {
	dial, _ := time.ParseDuration(defaultDialTimeout)
	return &ClientConfig{
		Addr:         defaultClientAddr,
		DialTimeout:  Duration(dial),
		MaxFrameSize: defaultMaxFrameSize,
		Codec:        defaultCodec,
		Log:          DefaultLogOptions(),
	}
}

// LoadServer reads a JSON file over the server defaults. An empty path returns the defaults.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServer()
	if err := loadJSON(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadClient reads a JSON file over the client defaults. An empty path returns the defaults.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClient()
	if err := loadJSON(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadJSON(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

var (
	ErrInvalidPort       = errors.New("config: port out of range")
	ErrInvalidIOThreads  = errors.New("config: io_threads must be >= 1")
	ErrInvalidRate       = errors.New("config: rate_limit must be >= 0 and rate_burst >= 1 when enabled")
	ErrEmptyAddr         = errors.New("config: empty client addr")
	ErrInvalidReadBuffer = errors.New("config: read_buffer_size must be >= 0")
)

// Validate checks value ranges. The transport kind is checked by the server builder.
func (c *ServerConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.IOThreads < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidIOThreads, c.IOThreads)
	}
	if c.ReadBufferSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidReadBuffer, c.ReadBufferSize)
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst < 1) {
		return ErrInvalidRate
	}
	return nil
}

func (c *ClientConfig) Validate() error {
	if c.Addr == "" {
		return ErrEmptyAddr
	}
	return nil
}
