package config

// Server defaults
const (
	defaultNetwork      = "tcp"
	defaultPort         = 12345
	defaultIOThreads    = 1
	defaultMaxFrameSize = 16 << 20 // 16 MiB, 0 disables the ceiling
	defaultCodec        = "proto"
	defaultRateBurst    = 100
	defaultReadBuffer   = 64 << 10 // bytes per connection read
)

// Client defaults
const (
	defaultClientAddr  = "127.0.0.1:12345"
	defaultDialTimeout = "5s"
)

// Log defaults
const (
	defaultLogLevel     = "info"
	defaultToConsole    = true
	defaultMaxSize      = 100 // MB
	defaultMaxBackups   = 10
	defaultMaxAge       = 30 // days
	defaultCompress     = true
	defaultEnableCaller = false
)
