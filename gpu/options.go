// Package gpu extracts accelerator kernels from a polyhedral program
// fragment: it selects outer tilable bands with parallel members, tiles
// them onto a block/thread grid, schedules data movement between global
// and on-chip memory, and drives AST construction for host and device.
package gpu

import (
	"fmt"
	"os"

	"github.com/xyproto/env/v2"
)

// Platform limits on the number of mapped dimensions.
const (
	maxGridDims  = 2
	maxBlockDims = 3
)

// Options configures kernel extraction. The zero value selects the
// defaults of DefaultOptions except where noted.
type Options struct {
	// TileSize is the default tile size per band member.
	TileSize int64
	// TileSizes overrides the per-member tile sizes when non-empty.
	TileSizes []int64
	// GridSizes caps the number of blocks per grid dimension.
	GridSizes []int64
	// BlockSizes fixes the number of threads per block dimension.
	BlockSizes []int64

	// Wrap distributes iterations over blocks and threads round-robin
	// instead of in contiguous chunks.
	Wrap bool
	// ScaleTileLoops multiplies tile loop iterators by the tile sizes.
	ScaleTileLoops bool
	// LiveRangeReordering enables the relaxed dependence policy that
	// permits reordering of live ranges.
	LiveRangeReordering bool

	// MaxSharedMemory bounds the total footprint of reference groups
	// placed in shared memory, in bytes. Negative means unlimited.
	MaxSharedMemory int64

	// UnrollCopyShared requests unrolling of shared-memory copy loops.
	UnrollCopyShared bool

	// RecordUsedSizes, when set, receives the sizes effectively used
	// per kernel ("tile", "grid" or "block").
	RecordUsedSizes func(kernelID int, kind string, sizes []int64)

	// Diag receives diagnostics. Defaults to stderr.
	Diag func(format string, args ...any)
}

// DefaultOptions returns the default configuration, with PPCG_*
// environment overrides applied.
func DefaultOptions() *Options {
	o := &Options{
		TileSize:        env.Int64("PPCG_TILE_SIZE", 32),
		MaxSharedMemory: env.Int64("PPCG_MAX_SHARED_MEMORY", 8192),
		ScaleTileLoops:  true,
	}
	if env.Has("PPCG_WRAP") {
		o.Wrap = env.Bool("PPCG_WRAP")
	}
	if env.Has("PPCG_SCALE_TILE_LOOPS") {
		o.ScaleTileLoops = env.Bool("PPCG_SCALE_TILE_LOOPS")
	}
	if env.Has("PPCG_LIVE_RANGE_REORDERING") {
		o.LiveRangeReordering = env.Bool("PPCG_LIVE_RANGE_REORDERING")
	}
	return o
}

func (o *Options) diag(format string, args ...any) {
	if o.Diag != nil {
		o.Diag(format, args...)
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}

func (o *Options) recordSizes(id int, kind string, sizes []int64) {
	if o.RecordUsedSizes != nil {
		o.RecordUsedSizes(id, kind, append([]int64{}, sizes...))
	}
}

// tileSizes returns n tile sizes, from TileSizes where given and from
// TileSize otherwise.
func (o *Options) tileSizes(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		if i < len(o.TileSizes) && o.TileSizes[i] > 0 {
			out[i] = o.TileSizes[i]
		} else if o.TileSize > 0 {
			out[i] = o.TileSize
		} else {
			out[i] = 32
		}
	}
	return out
}

// gridSizes returns the default grid dimensions for n mapped dimensions.
func (o *Options) gridSizes(n int) []int64 {
	var def []int64
	switch n {
	case 0:
		return nil
	case 1:
		def = []int64{32768}
	default:
		def = []int64{256, 256}
	}
	out := make([]int64, n)
	for i := range out {
		if i < len(o.GridSizes) && o.GridSizes[i] > 0 {
			out[i] = o.GridSizes[i]
		} else {
			out[i] = def[i]
		}
	}
	return out
}

// blockSizes returns the default block dimensions for n mapped dimensions.
func (o *Options) blockSizes(n int) []int64 {
	var def []int64
	switch n {
	case 0:
		return nil
	case 1:
		def = []int64{512}
	case 2:
		def = []int64{32, 16}
	default:
		def = []int64{32, 4, 4}
	}
	out := make([]int64, n)
	for i := range out {
		if i < len(o.BlockSizes) && o.BlockSizes[i] > 0 {
			out[i] = o.BlockSizes[i]
		} else {
			out[i] = def[i]
		}
	}
	return out
}
