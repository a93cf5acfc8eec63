// Package worldstore implements a format independent layer over voxel world storage.
//
// A World is opened on a Provider, which implements one on-disk format: region files of Java
// edition (package anvil), the LevelDB database of Bedrock edition (package bedrock) or the
// map database of Luanti (package luanti). Callers read and modify blocks and block metadata by
// world position without knowing which format backs the world:
//
//	p, err := anvil.Config{Dir: dir}.Open()
//	if err != nil {
//		// ...
//	}
//	w, err := worldstore.Config{}.Open(p)
//	if err != nil {
//		// ...
//	}
//	defer w.Close()
//	err = w.SetBlock(chunk.Overworld, chunk.BlockPos{0, 64, 0}, chunk.BlockRef{ID: "minecraft:stone"})
//
// Chunks are kept in a bounded LRU cache and written back to the provider when flushed, when
// evicted and when the World is closed. A World is not safe for concurrent use; Sync wraps one
// with a mutex.
package worldstore
