package worldstore

import (
	"fmt"

	"github.com/cqdetdev/worldstore/chunk"
	"github.com/cqdetdev/worldstore/compression"
)

// inflate decompresses every payload using its own scheme. Each decompressed payload may be at
// most limit bytes long.
func inflate(payloads chunk.Payloads, limit int) (chunk.Payloads, error) {
	out := make(chunk.Payloads, len(payloads))
	for i, p := range payloads {
		data, err := compression.Inflate(p.Scheme, p.Data, limit)
		if err != nil {
			return nil, fmt.Errorf("payload %x: %w", p.Key, err)
		}
		out[i] = chunk.Payload{Key: p.Key, Scheme: p.Scheme, Data: data}
	}
	return out, nil
}

// deflate compresses every payload with the scheme the provider selected for it.
func deflate(payloads chunk.Payloads) (chunk.Payloads, error) {
	out := make(chunk.Payloads, len(payloads))
	for i, p := range payloads {
		data, err := compression.Deflate(p.Scheme, p.Data)
		if err != nil {
			return nil, fmt.Errorf("payload %x: %w", p.Key, err)
		}
		out[i] = chunk.Payload{Key: p.Key, Scheme: p.Scheme, Data: data}
	}
	return out, nil
}
