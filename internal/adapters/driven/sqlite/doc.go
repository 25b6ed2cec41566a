// Package sqlite provides a file-backed vector index for single-node
// deployments.
//
// Vectors are stored as little-endian float32 blobs. Metadata filters run in
// SQL and cosine ranking runs in process, which is fine for knowledge bases
// of a few hundred chunks.
package sqlite
