package main

import "time"

type Config struct {
	Host                 string        `env:"HOST,default=localhost"`
	Port                 int           `env:"PORT,default=9000"`
	BadgerFilepath       string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel             string        `env:"LOG_LEVEL,default=info"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	PresenceBufferSize   int           `env:"PRESENCE_BUFFER_SIZE,default=256"`
	HistoryPageSize      int           `env:"HISTORY_PAGE_SIZE,default=20"`
	AuthTokenDuration    time.Duration `env:"AUTH_TOKEN_DURATION,default=12h"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=5s"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}
