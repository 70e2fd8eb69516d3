package engine

// Op names one step of a generated stub program. spec.md §9 recommends
// expressing the original's hand-assembled prefix/middle/suffix template as
// "a structured intermediate (sequence of tagged instruction records with
// explicit patch sites)" rather than a raw byte array — Op and Instruction
// are exactly that structured intermediate, and Generate below assembles one
// per traced function from its FuncInfo the same way stub_gen.c's template
// back-patcher did, but as typed data instead of machine code.
type Op uint8

const (
	// OpCheckEnabled tail-calls the original with no event if the patch's
	// own Enabled flag is false.
	OpCheckEnabled Op = iota
	// OpCheckGlobalEnable tail-calls the original with no event if the
	// region's GlobalEnable flag is false.
	OpCheckGlobalEnable
	// OpCheckTargetTask tail-calls the original with no event if the
	// region is version>=2, TargetTask is set, and it does not match the
	// calling task.
	OpCheckTargetTask
	// OpReserveSlot reserves the next ring slot; on overflow, increments
	// the overflow counter and tail-calls the original with no event.
	OpReserveSlot
	// OpCaptureArg copies argument Instruction.Arg from the call into the
	// reserved entry.
	OpCaptureArg
	// OpSetArgCount writes Instruction.Arg as the entry's ArgCount.
	OpSetArgCount
	// OpCaptureString copies up to 23 bytes of the string-typed argument
	// Instruction.Arg, NUL-terminated, into the entry.
	OpCaptureString
	// OpPublishValid stores Valid=1 on the entry before the original call
	// (spec.md §4.3: lets the consumer drain a slot whose producer is
	// blocked inside the real call).
	OpPublishValid
	// OpCallOriginal invokes the original function.
	OpCallOriginal
	// OpCaptureReturn writes the original's return value into the entry.
	OpCaptureReturn
	// OpRePublishValid re-stores Valid=1 after the return value is
	// written — redundant in the non-blocking case, required in the
	// blocking case (spec.md §4.3).
	OpRePublishValid
	// OpReleaseInFlight decrements the patch's in-flight counter.
	OpReleaseInFlight
)

// Instruction is one step of a Program, with an optional integer operand
// (an argument index or a count) standing in for the original's back-patched
// field offsets.
type Instruction struct {
	Op  Op
	Arg int
}

// Program is the ordered instruction sequence Generate produces for one
// traced function: a fixed prefix and suffix bracketing a metadata-driven
// middle, per spec.md §4.3.
type Program []Instruction

// Generate assembles the Program for fi. The prefix and suffix regions are
// identical for every function; only the middle (argument/string capture)
// varies with fi's metadata.
func Generate(fi FuncInfo) Program {
	var p Program

	// Prefix: fast-path enable/filter checks, then reserve a slot.
	p = append(p,
		Instruction{Op: OpCheckEnabled},
		Instruction{Op: OpCheckGlobalEnable},
		Instruction{Op: OpCheckTargetTask},
		Instruction{Op: OpReserveSlot},
	)

	// Middle: per-argument captures, then arg_count, then the string
	// argument (lowest set bit), driven entirely by fi.
	eff := fi.EffectiveArgCount()
	for i := 0; i < eff; i++ {
		p = append(p, Instruction{Op: OpCaptureArg, Arg: i})
	}
	p = append(p, Instruction{Op: OpSetArgCount, Arg: eff})
	if idx, ok := fi.StringArgIndex(); ok {
		p = append(p, Instruction{Op: OpCaptureString, Arg: idx})
	}
	p = append(p, Instruction{Op: OpPublishValid})

	// Suffix: call through, capture return, re-publish, release.
	p = append(p,
		Instruction{Op: OpCallOriginal},
		Instruction{Op: OpCaptureReturn},
		Instruction{Op: OpRePublishValid},
		Instruction{Op: OpReleaseInFlight},
	)

	return p
}
