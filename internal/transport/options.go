package transport

import "time"

// Option configures endpoints and the roles that create them.
type Option func(*options)

type options struct {
	maxMessageSize int
	writeTimeout   time.Duration
}

func defaultOptions() options {
	return options{maxMessageSize: MaxPayload}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMaxMessageSize caps the payload size accepted on receive and on send.
// Zero or negative allows the full 32-bit length range.
func WithMaxMessageSize(n int) Option {
	return func(o *options) {
		o.maxMessageSize = n
	}
}

// WithWriteTimeout bounds each frame write on streams that support write
// deadlines. Zero, the default, blocks until the write completes.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}
