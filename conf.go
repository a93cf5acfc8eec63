package worldstore

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Options holds configuration options for a World.
type Options struct {
	// CacheCapacity is the maximum number of chunks kept in memory. Chunks that are not used
	// for the longest time are evicted first, preferring chunks without unsaved changes.
	// Defaults to 1024. Values below 1 are treated as 1.
	CacheCapacity int

	// MaxPayloadSize is the maximum size in bytes of a chunk payload after decompression.
	// Larger payloads fail to load with compression.ErrPayloadTooLarge. Defaults to 16MB.
	// Negative values remove the limit.
	MaxPayloadSize int

	// Log is the Logger to use for debug messages and errors.
	// If nil, defaults to slog.Default().
	Log *slog.Logger
}

// DefaultOptions returns the default options for a World.
func DefaultOptions() *Options {
	return &Options{
		CacheCapacity:  1024,
		MaxPayloadSize: 16 * 1024 * 1024, // 16MB
		Log:            slog.Default(),
	}
}

// Config holds configuration for opening a World.
type Config struct {
	Options *Options
}

// Open returns a World reading and writing chunks through the Provider passed. The World takes
// ownership of p and closes it when the World is closed.
func (conf Config) Open(p Provider) (*World, error) {
	if p == nil {
		return nil, fmt.Errorf("open world: nil provider")
	}
	if conf.Options == nil {
		conf.Options = DefaultOptions()
	}
	o := *conf.Options
	if o.Log == nil {
		o.Log = slog.Default()
	}
	if o.CacheCapacity == 0 {
		o.CacheCapacity = 1024
	}
	if o.CacheCapacity < 1 {
		o.CacheCapacity = 1
	}
	if o.MaxPayloadSize == 0 {
		o.MaxPayloadSize = 16 * 1024 * 1024
	}
	conf.Options = &o

	id := uuid.New()
	conf.Options.Log = conf.Options.Log.With("provider", p.Name(), "world", id.String())
	return newWorld(conf, id, p), nil
}
