// Package rcheap contains shared utilities for the rcheap allocator stack:
// alignment math, power-of-two validation, statistics aggregation, and
// build-tag-gated debug validation and corruption markers.
//
// The allocator itself lives in the arena package, OS page mapping in the
// pages package, and the runtime-facing API in the heap package. The whole
// stack targets single-threaded callers: there are no locks or atomics
// anywhere in the allocation or reference-counting paths, and consumers that
// need concurrent access must synchronize externally.
package rcheap
