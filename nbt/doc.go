// Package nbt implements the named binary tag format used to store chunk payloads and block
// metadata. Both the big-endian layout of Java edition files and the little-endian layout of
// Bedrock edition are supported through Encoding.
//
// Tags are represented by a small set of Go types implementing Tag. Compounds keep their
// insertion order, so encoding a value twice always produces the same bytes, and decoding the
// output of Marshal yields a value Equal to the input.
package nbt
