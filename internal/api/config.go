package api

import (
	"time"
)

// Config holds configuration for the API server
type Config struct {
	ListenAddress string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration

	// MaxTextLength caps single translation input, in characters
	MaxTextLength int
	// MaxBatchItems caps the number of items in one batch request
	MaxBatchItems int
}

const (
	DefaultMaxTextLength = 5000
	DefaultMaxBatchItems = 50

	defaultFromLang  = "auto"
	defaultToLang    = "zh"
	targetSourceLang = "zh"
	requestIDHeader  = "X-Request-ID"
	requestIDCtxKey  = "request_id"
)
