package network

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultMinPeers is the number of outbound peers below which we dial seeds
	DefaultMinPeers = 3
	// DefaultMaxPeers is advisory, see Options.MaxPeers
	DefaultMaxPeers = 12
	// DefaultRetryInterval is how often we try to enter the network
	DefaultRetryInterval = 5 * time.Second
	// DefaultDialTimeout bounds a single outbound dial
	DefaultDialTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds a single write to a peer
	DefaultWriteTimeout = 10 * time.Second
)

// ErrOptionType is returned by Set when a known option gets a value of the wrong type
var ErrOptionType = errors.New("network: wrong type for option")

// Logger is what a node needs to report on its connections.
//
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// NopLogger returns a Logger that discards everything
func NopLogger() Logger {
	return zap.NewNop().Sugar()
}

// DefaultLogger returns a console logger in zap's development format
func DefaultLogger() Logger {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewExample().Sugar()
	}
	return logger.Sugar()
}

// Options configures a Node.
//
// Zero fields are replaced with their defaults when the node is created,
// use Node.Set to put an explicit zero afterwards.
type Options struct {
	// MinPeers is the outbound peer count below which seeds are dialed
	MinPeers int
	// MaxPeers is accepted for callers to honor, the node doesn't enforce it
	MaxPeers int
	// Seeds are "host:port" addresses used to enter the network
	Seeds []string
	// RetryInterval is the period between attempts at entering the network
	RetryInterval time.Duration
	// DialTimeout bounds each outbound dial
	DialTimeout time.Duration
	// WriteTimeout bounds each write to a peer
	WriteTimeout time.Duration
	// Logger receives connection events, nil meaning DefaultLogger
	Logger Logger
}

// DefaultOptions returns the options a node uses when given none
func DefaultOptions() Options {
	return Options{
		MinPeers:      DefaultMinPeers,
		MaxPeers:      DefaultMaxPeers,
		RetryInterval: DefaultRetryInterval,
		DialTimeout:   DefaultDialTimeout,
		WriteTimeout:  DefaultWriteTimeout,
	}
}

func (opts Options) merged() Options {
	defaults := DefaultOptions()
	if opts.MinPeers == 0 {
		opts.MinPeers = defaults.MinPeers
	}
	if opts.MaxPeers == 0 {
		opts.MaxPeers = defaults.MaxPeers
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaults.RetryInterval
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaults.DialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}
	opts.Seeds = append([]string(nil), opts.Seeds...)
	return opts
}

// Set changes an option after the node was created.
//
// The known keys are minPeers, maxPeers, seeds, retryInterval, dialTimeout,
// writeTimeout and logger. Durations may be given as a time.Duration or as
// an int number of milliseconds; a nil logger silences the node.
// Any other key is stored as is, for Get to return.
func (n *Node) Set(key string, value interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch key {
	case "minPeers":
		v, ok := value.(int)
		if !ok {
			return optionTypeError(key, value)
		}
		n.opts.MinPeers = v
	case "maxPeers":
		v, ok := value.(int)
		if !ok {
			return optionTypeError(key, value)
		}
		n.opts.MaxPeers = v
	case "seeds":
		v, ok := value.([]string)
		if !ok {
			return optionTypeError(key, value)
		}
		n.opts.Seeds = append([]string(nil), v...)
	case "retryInterval", "dialTimeout", "writeTimeout":
		d, ok := toDuration(value)
		if !ok || d <= 0 {
			return optionTypeError(key, value)
		}
		switch key {
		case "retryInterval":
			n.opts.RetryInterval = d
		case "dialTimeout":
			n.opts.DialTimeout = d
		default:
			n.opts.WriteTimeout = d
		}
	case "logger":
		if value == nil {
			n.opts.Logger = NopLogger()
			return nil
		}
		v, ok := value.(Logger)
		if !ok {
			return optionTypeError(key, value)
		}
		n.opts.Logger = v
	default:
		n.extra[key] = value
	}
	return nil
}

// Get returns the value of an option, or nil if it was never set
func (n *Node) Get(key string) interface{} {
	n.mu.RLock()
	defer n.mu.RUnlock()
	switch key {
	case "minPeers":
		return n.opts.MinPeers
	case "maxPeers":
		return n.opts.MaxPeers
	case "seeds":
		return append([]string(nil), n.opts.Seeds...)
	case "retryInterval":
		return n.opts.RetryInterval
	case "dialTimeout":
		return n.opts.DialTimeout
	case "writeTimeout":
		return n.opts.WriteTimeout
	case "logger":
		return n.opts.Logger
	}
	value, ok := n.extra[key]
	if !ok {
		return nil
	}
	return value
}

// Options returns a copy of the node's current options
func (n *Node) Options() Options {
	n.mu.RLock()
	defer n.mu.RUnlock()
	opts := n.opts
	opts.Seeds = append([]string(nil), opts.Seeds...)
	return opts
}

// Logger returns the logger the node currently reports to
func (n *Node) Logger() Logger {
	return n.log()
}

func (n *Node) log() Logger {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.opts.Logger
}

func toDuration(value interface{}) (time.Duration, bool) {
	switch v := value.(type) {
	case time.Duration:
		return v, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	default:
		return 0, false
	}
}

func optionTypeError(key string, value interface{}) error {
	return fmt.Errorf("%w: %s cannot be %T", ErrOptionType, key, value)
}
