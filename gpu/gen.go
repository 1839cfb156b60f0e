package gpu

import (
	"github.com/PollyLabs/ppcg/poly"
	"github.com/PollyLabs/ppcg/scop"
)

// Generated is the result of kernel extraction for one program
// fragment: the host AST with one launch site per kernel, and the
// kernels with their device ASTs. When extraction fails the fragment is
// compiled to a plain sequential host AST instead.
type Generated struct {
	Host     *poly.ASTNode
	Kernels  []*Kernel
	Schedule *poly.ScheduleNode
	HostOnly bool
}

// Generate maps a program fragment onto an accelerator: it computes a
// parallelism-exposing schedule, selects the outermost tilable bands
// with coincident members, tiles each onto the block/thread grid,
// places array references in registers or shared memory, schedules the
// copying and synchronization, and builds host and device ASTs.
//
// Errors in the input are returned. Failures during kernel construction
// are diagnosed and demote the whole fragment to host-only code.
func Generate(s *scop.Scop, opts *Options) (*Generated, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	prog, err := BuildArrayInfo(s, opts)
	if err != nil {
		return nil, err
	}

	tree, err := computeSchedule(prog, opts)
	if err != nil {
		return nil, err
	}
	// The untiled flat schedule, kept for the host-only path before band
	// selection rewrites the tree.
	flat, flatDepth, err := subtreeSchedule(tree, nil)
	if err != nil {
		return nil, err
	}

	sels, tree, err := selectOuterBands(tree)
	if err != nil {
		return hostFallback(prog, opts, flat, flatDepth, err)
	}

	kernels := make([]*Kernel, 0, len(sels))
	for i, sel := range sels {
		k, err := createKernel(prog, sel, i, opts)
		if err == nil {
			err = k.groupReferences(prog, opts)
		}
		if err == nil {
			// Interchange may still abandon private tiles, so declarations
			// and launch arguments are derived only afterwards.
			k.interchangeForUnroll()
			k.createKernelVars()
			k.collectArguments()
			err = k.generate(prog, opts)
		}
		if err != nil {
			return hostFallback(prog, opts, flat, flatDepth, err)
		}
		sel.Mark.MarkPayload = k
		kernels = append(kernels, k)
	}

	host, err := generateHost(prog, kernels, sels)
	if err != nil {
		return hostFallback(prog, opts, flat, flatDepth, err)
	}
	return &Generated{Host: host, Kernels: kernels, Schedule: tree}, nil
}

func hostFallback(prog *Prog, opts *Options, flat *poly.UnionMap,
	depth int, cause error) (*Generated, error) {

	opts.diag("gpu: not using gpu: %v\n", cause)
	host, err := hostOnlyAST(prog, flat, depth)
	if err != nil {
		return nil, err
	}
	return &Generated{Host: host, HostOnly: true}, nil
}
