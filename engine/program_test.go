package engine

import "testing"

func TestGenerate_PrefixAndSuffixAreFixed(t *testing.T) {
	fi := FuncInfo{Name: "Lock", LVO: -84, ArgCount: 2}
	p := Generate(fi)

	wantPrefix := []Op{OpCheckEnabled, OpCheckGlobalEnable, OpCheckTargetTask, OpReserveSlot}
	for i, op := range wantPrefix {
		if p[i].Op != op {
			t.Errorf("prefix[%d] = %v, want %v", i, p[i].Op, op)
		}
	}

	wantSuffix := []Op{OpCallOriginal, OpCaptureReturn, OpRePublishValid, OpReleaseInFlight}
	suffix := p[len(p)-len(wantSuffix):]
	for i, op := range wantSuffix {
		if suffix[i].Op != op {
			t.Errorf("suffix[%d] = %v, want %v", i, suffix[i].Op, op)
		}
	}
}

func TestGenerate_CapturesEachArgumentThenCount(t *testing.T) {
	fi := FuncInfo{Name: "Lock", LVO: -84, ArgCount: 2}
	p := Generate(fi)

	var captures []int
	for _, ins := range p {
		if ins.Op == OpCaptureArg {
			captures = append(captures, ins.Arg)
		}
	}
	if len(captures) != 2 {
		t.Fatalf("expected 2 OpCaptureArg instructions, got %d", len(captures))
	}
	if captures[0] != 0 || captures[1] != 1 {
		t.Errorf("capture order = %v, want [0 1]", captures)
	}

	foundCount := false
	for _, ins := range p {
		if ins.Op == OpSetArgCount {
			foundCount = true
			if ins.Arg != 2 {
				t.Errorf("OpSetArgCount arg = %d, want 2", ins.Arg)
			}
		}
	}
	if !foundCount {
		t.Error("expected an OpSetArgCount instruction")
	}
}

func TestGenerate_ClampsArgCountToMaxArgs(t *testing.T) {
	fi := FuncInfo{Name: "ManyArgs", LVO: -200, ArgCount: 9}
	p := Generate(fi)

	count := 0
	for _, ins := range p {
		if ins.Op == OpCaptureArg {
			count++
		}
	}
	if count != MaxArgs {
		t.Errorf("captured %d args, want %d (clamped)", count, MaxArgs)
	}
}

func TestGenerate_OmitsCaptureStringWhenNoStringArg(t *testing.T) {
	fi := FuncInfo{Name: "NoStrings", LVO: -10, ArgCount: 1, StringArgs: 0}
	p := Generate(fi)
	for _, ins := range p {
		if ins.Op == OpCaptureString {
			t.Fatal("did not expect OpCaptureString when StringArgs == 0")
		}
	}
}

func TestGenerate_CapturesLowestSetStringArg(t *testing.T) {
	// bits 1 and 2 set; lowest set bit is 1.
	fi := FuncInfo{Name: "OpenLibrary", LVO: -552, ArgCount: 2, StringArgs: 0b0110}
	p := Generate(fi)

	found := false
	for _, ins := range p {
		if ins.Op == OpCaptureString {
			found = true
			if ins.Arg != 1 {
				t.Errorf("OpCaptureString arg = %d, want 1 (lowest set bit)", ins.Arg)
			}
		}
	}
	if !found {
		t.Fatal("expected an OpCaptureString instruction")
	}
}

func TestGenerate_CaptureStringPrecedesPublishValid(t *testing.T) {
	fi := FuncInfo{Name: "OpenLibrary", LVO: -552, ArgCount: 2, StringArgs: 0b01}
	p := Generate(fi)

	var stringIdx, publishIdx = -1, -1
	for i, ins := range p {
		if ins.Op == OpCaptureString {
			stringIdx = i
		}
		if ins.Op == OpPublishValid {
			publishIdx = i
		}
	}
	if stringIdx == -1 || publishIdx == -1 {
		t.Fatal("expected both OpCaptureString and OpPublishValid")
	}
	if stringIdx > publishIdx {
		t.Error("OpCaptureString must precede OpPublishValid so the published event is complete")
	}
}
