package stream

import "time"

// Option customizes Prime, Stream and their coordinator counterparts.
type Option func(*options)

type options struct {
	offset    *time.Duration
	startTime *time.Duration
}

// WithOffset positions the operation at offset instead of the current cursor.
func WithOffset(offset time.Duration) Option {
	return func(o *options) {
		o.offset = &offset
	}
}

// WithStartTime schedules a primed first chunk at device time t
// instead of the device's current time.
func WithStartTime(t time.Duration) Option {
	return func(o *options) {
		o.startTime = &t
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Offset reports the offset carried by opts, if any.
func Offset(opts ...Option) (time.Duration, bool) {
	o := applyOptions(opts)
	if o.offset == nil {
		return 0, false
	}
	return *o.offset, true
}
