package trace

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rubrikinc/wachy-go/internal/binary"
)

// synthesizeLocked translates the current stack state into a bpftrace
// program string, per spec.md §4.2. Must be called with s.mu held; it
// only reads fields, so the snapshot it builds from is internally
// consistent with the counter value returned alongside it.
func (s *Stack) synthesizeLocked() (string, uint64) {
	b := &builder{
		path:               s.programPath,
		frames:             s.frames,
		mode:               s.mode,
		breakdownFunctions: s.breakdownFunctions,
	}
	return b.build(), s.counter.Load()
}

type builder struct {
	path               string
	frames             []FrameInfo
	mode               Mode
	breakdownFunctions []binary.FunctionName

	out strings.Builder
}

func (b *builder) nonTop() []FrameInfo {
	if len(b.frames) <= 1 {
		return nil
	}
	return b.frames[:len(b.frames)-1]
}

func (b *builder) top() FrameInfo {
	return b.frames[len(b.frames)-1]
}

func (b *builder) topDepth() int {
	return len(b.nonTop())
}

func (b *builder) totalRetFilters() int {
	n := 0
	for _, f := range b.frames {
		if f.RetFilter != "" {
			n++
		}
	}
	return n
}

// tracedLines returns the top frame's actively traced source lines in
// deterministic (sorted) order. The frame's own SourceLine is not included
// unless it is itself a traced call-site line; callers that need it
// prepend it.
func (b *builder) tracedLines() []int {
	top := b.top()
	lines := make([]int, 0, len(top.TracedCallsites))
	for line := range top.TracedCallsites {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	return lines
}

func uprobe(path string, fn binary.FunctionName) string {
	return fmt.Sprintf("uprobe:%s:%s", path, fn.String())
}

func uprobeOffset(path string, fn binary.FunctionName, offset uint32) string {
	return fmt.Sprintf("uprobe:%s:%s+%d", path, fn.String(), offset)
}

func uretprobe(path string, fn binary.FunctionName) string {
	return fmt.Sprintf("uretprobe:%s:%s", path, fn.String())
}

func startVar(line int) string              { return fmt.Sprintf("@start%d[tid]", line) }
func durationTmpVar(line int) string        { return fmt.Sprintf("@duration_tmp%d[tid]", line) }
func countTmpVar(line int) string           { return fmt.Sprintf("@count_tmp%d[tid]", line) }
func durationGlobalVar(line int) string     { return fmt.Sprintf("@duration%d", line) }
func countGlobalVar(line int) string        { return fmt.Sprintf("@count%d", line) }
func startFrameVar(i int) string            { return fmt.Sprintf("@start_frame%d[tid]", i) }
func startBreakdownVar(i int) string        { return fmt.Sprintf("@start_breakdown%d[tid]", i) }
func durationBreakdownTmpVar(i int) string  { return fmt.Sprintf("@duration_breakdown_tmp%d[tid]", i) }
func countBreakdownTmpVar(i int) string     { return fmt.Sprintf("@count_breakdown_tmp%d[tid]", i) }
func durationBreakdownGlobalVar(i int) string {
	return fmt.Sprintf("@duration_breakdown%d", i)
}
func countBreakdownGlobalVar(i int) string { return fmt.Sprintf("@count_breakdown%d", i) }

func (b *builder) build() string {
	b.emitBegin()
	b.emitFrameBlocks()
	b.emitTopEntry()

	switch b.mode {
	case ModeHistogram:
		b.emitHistogramMode()
	case ModeBreakdown:
		b.emitBreakdownMode()
	default:
		b.emitLineMode()
	}

	b.emitInterval()
	return b.out.String()
}

func (b *builder) emitBegin() {
	b.out.WriteString("BEGIN\n{\n\t@start_time = nsecs;\n\t@depth[-1] = 0;\n\t@matched_retfilters[-1] = 0;\n}\n\n")
}

// emitFrameBlocks emits the entry/exit pair for every non-top frame. The
// outermost frame's exit block (index 0) also carries the commit block
// when there is at least one non-top frame — see commitHere.
func (b *builder) emitFrameBlocks() {
	nonTop := b.nonTop()
	for i, frame := range nonTop {
		spec := uprobe(b.path, frame.Function)
		if frame.Filter != "" {
			spec += fmt.Sprintf(" /@depth[tid] == %d && (%s)/", i, frame.Filter)
		} else {
			spec += fmt.Sprintf(" /@depth[tid] == %d/", i)
		}
		b.out.WriteString(spec)
		b.out.WriteString("\n{\n")
		fmt.Fprintf(&b.out, "\t@depth[tid] = %d;\n", i+1)
		fmt.Fprintf(&b.out, "\t%s = nsecs;\n", startFrameVar(i))
		b.out.WriteString("}\n\n")

		fmt.Fprintf(&b.out, "%s /@depth[tid] == %d/\n{\n", uretprobe(b.path, frame.Function), i+1)
		fmt.Fprintf(&b.out, "\t@depth[tid] = %d;\n", i)
		fmt.Fprintf(&b.out, "\t$duration = nsecs - %s;\n", startFrameVar(i))
		if frame.RetFilter != "" {
			fmt.Fprintf(&b.out, "\tif (%s) {\n\t\t@matched_retfilters[tid]++;\n\t}\n", frame.RetFilter)
		}
		if i == 0 {
			b.emitCommit()
		}
		b.out.WriteString("}\n\n")
	}
}

// commitHere reports whether the commit block belongs in the top frame's
// own return probe: true when there is no outermost non-top frame to
// carry it instead (spec.md §4.2 step 5: "the first return probe, which
// is in the outermost frame if one exists, else the top frame").
func (b *builder) commitHere() bool {
	return len(b.nonTop()) == 0
}

func (b *builder) emitTopEntry() {
	top := b.top()
	spec := uprobe(b.path, top.Function)
	depth := b.topDepth()
	if top.Filter != "" {
		spec += fmt.Sprintf(" /@depth[tid] == %d && (%s)/", depth, top.Filter)
	} else {
		spec += fmt.Sprintf(" /@depth[tid] == %d/", depth)
	}
	b.out.WriteString(spec)
	b.out.WriteString("\n{\n")
	fmt.Fprintf(&b.out, "\t%s = nsecs;\n", startVar(top.SourceLine))
	fmt.Fprintf(&b.out, "\t@depth[tid] = %d;\n", depth+1)
	b.out.WriteString("}\n\n")
}

func (b *builder) emitLineMode() {
	top := b.top()
	depth := b.topDepth()

	fmt.Fprintf(&b.out, "%s /@depth[tid] == %d/\n{\n", uretprobe(b.path, top.Function), depth+1)
	fmt.Fprintf(&b.out, "\t$duration = nsecs - %s;\n", startVar(top.SourceLine))
	fmt.Fprintf(&b.out, "\t%s += $duration;\n", durationTmpVar(top.SourceLine))
	fmt.Fprintf(&b.out, "\t%s += 1;\n", countTmpVar(top.SourceLine))
	fmt.Fprintf(&b.out, "\tdelete(%s);\n", startVar(top.SourceLine))
	fmt.Fprintf(&b.out, "\t@depth[tid] = %d;\n", depth)
	if top.RetFilter != "" {
		fmt.Fprintf(&b.out, "\tif (%s) {\n\t\t@matched_retfilters[tid]++;\n\t}\n", top.RetFilter)
	}
	if b.commitHere() {
		b.emitCommit()
	}
	b.out.WriteString("}\n\n")

	for _, line := range b.tracedLines() {
		ci := top.TracedCallsites[line]
		entrySpec := uprobeOffset(b.path, top.Function, ci.RelativeIP)
		fmt.Fprintf(&b.out, "%s /@depth[tid] == %d/\n{\n\t%s = nsecs;\n}\n\n", entrySpec, depth+1, startVar(line))

		exitSpec := uprobeOffset(b.path, top.Function, ci.RelativeIP+ci.Length)
		fmt.Fprintf(&b.out, "%s /@depth[tid] == %d && %s/\n{\n", exitSpec, depth+1, startVar(line))
		fmt.Fprintf(&b.out, "\t$duration = nsecs - %s;\n", startVar(line))
		fmt.Fprintf(&b.out, "\t%s += $duration;\n", durationTmpVar(line))
		fmt.Fprintf(&b.out, "\t%s += 1;\n", countTmpVar(line))
		fmt.Fprintf(&b.out, "\tdelete(%s);\n", startVar(line))
		b.out.WriteString("}\n\n")
	}
}

func (b *builder) emitHistogramMode() {
	top := b.top()
	depth := b.topDepth()

	fmt.Fprintf(&b.out, "%s /@depth[tid] == %d/\n{\n", uretprobe(b.path, top.Function), depth+1)
	fmt.Fprintf(&b.out, "\t$duration = nsecs - %s;\n", startVar(top.SourceLine))
	b.out.WriteString("\t@duration_tmp[tid] = $duration;\n")
	fmt.Fprintf(&b.out, "\tdelete(%s);\n", startVar(top.SourceLine))
	fmt.Fprintf(&b.out, "\t@depth[tid] = %d;\n", depth)
	if top.RetFilter != "" {
		fmt.Fprintf(&b.out, "\tif (%s) {\n\t\t@matched_retfilters[tid]++;\n\t}\n", top.RetFilter)
	}
	if b.commitHere() {
		b.emitCommit()
	}
	b.out.WriteString("}\n\n")
}

func (b *builder) emitBreakdownMode() {
	top := b.top()
	depth := b.topDepth()

	fmt.Fprintf(&b.out, "%s /@depth[tid] == %d/\n{\n", uretprobe(b.path, top.Function), depth+1)
	fmt.Fprintf(&b.out, "\t$duration = nsecs - %s;\n", startVar(top.SourceLine))
	fmt.Fprintf(&b.out, "\t%s += $duration;\n", durationTmpVar(top.SourceLine))
	fmt.Fprintf(&b.out, "\t%s += 1;\n", countTmpVar(top.SourceLine))
	fmt.Fprintf(&b.out, "\tdelete(%s);\n", startVar(top.SourceLine))
	fmt.Fprintf(&b.out, "\t@depth[tid] = %d;\n", depth)
	if top.RetFilter != "" {
		fmt.Fprintf(&b.out, "\tif (%s) {\n\t\t@matched_retfilters[tid]++;\n\t}\n", top.RetFilter)
	}
	if b.commitHere() {
		b.emitCommit()
	}
	b.out.WriteString("}\n\n")

	for i, fn := range b.breakdownFunctions {
		fmt.Fprintf(&b.out, "%s /@depth[tid] == %d/\n{\n\t%s = nsecs;\n}\n\n", uprobe(b.path, fn), depth+1, startBreakdownVar(i))

		fmt.Fprintf(&b.out, "%s /%s/\n{\n", uretprobe(b.path, fn), startBreakdownVar(i))
		fmt.Fprintf(&b.out, "\t$duration = nsecs - %s;\n", startBreakdownVar(i))
		fmt.Fprintf(&b.out, "\t%s += $duration;\n", durationBreakdownTmpVar(i))
		fmt.Fprintf(&b.out, "\t%s += 1;\n", countBreakdownTmpVar(i))
		fmt.Fprintf(&b.out, "\tdelete(%s);\n", startBreakdownVar(i))
		b.out.WriteString("}\n\n")
	}
}

// emitCommit wraps temp-per-thread accumulation into globals, guarded by
// every nested (and the frame's own) ret filter having matched, then
// deletes every temp variable and the per-thread matched count —
// preventing state from leaking across top-level calls (spec.md §4.2
// step 5).
func (b *builder) emitCommit() {
	total := b.totalRetFilters()
	top := b.top()

	var commit, cleanup strings.Builder

	switch b.mode {
	case ModeHistogram:
		commit.WriteString("\t\t@hist = hist(@duration_tmp[tid]);\n")
		cleanup.WriteString("\tdelete(@duration_tmp[tid]);\n")

	case ModeBreakdown:
		fmt.Fprintf(&commit, "\t\t%s += %s;\n", durationGlobalVar(top.SourceLine), durationTmpVar(top.SourceLine))
		fmt.Fprintf(&commit, "\t\t%s += %s;\n", countGlobalVar(top.SourceLine), countTmpVar(top.SourceLine))
		fmt.Fprintf(&cleanup, "\tdelete(%s);\n", durationTmpVar(top.SourceLine))
		fmt.Fprintf(&cleanup, "\tdelete(%s);\n", countTmpVar(top.SourceLine))
		for i := range b.breakdownFunctions {
			fmt.Fprintf(&commit, "\t\t%s += %s;\n", durationBreakdownGlobalVar(i), durationBreakdownTmpVar(i))
			fmt.Fprintf(&commit, "\t\t%s += %s;\n", countBreakdownGlobalVar(i), countBreakdownTmpVar(i))
			fmt.Fprintf(&cleanup, "\tdelete(%s);\n", durationBreakdownTmpVar(i))
			fmt.Fprintf(&cleanup, "\tdelete(%s);\n", countBreakdownTmpVar(i))
		}

	default: // ModeLine
		lines := append([]int{top.SourceLine}, b.tracedLines()...)
		for _, line := range lines {
			fmt.Fprintf(&commit, "\t\t%s += %s;\n", durationGlobalVar(line), durationTmpVar(line))
			fmt.Fprintf(&commit, "\t\t%s += %s;\n", countGlobalVar(line), countTmpVar(line))
			fmt.Fprintf(&cleanup, "\tdelete(%s);\n", durationTmpVar(line))
			fmt.Fprintf(&cleanup, "\tdelete(%s);\n", countTmpVar(line))
		}
	}

	fmt.Fprintf(&b.out, "\tif (@matched_retfilters[tid] == %d) {\n%s\t}\n", total, commit.String())
	b.out.WriteString(cleanup.String())
	b.out.WriteString("\tdelete(@matched_retfilters[tid]);\n")
}

func (b *builder) emitInterval() {
	b.out.WriteString("interval:s:1\n{\n")
	switch b.mode {
	case ModeHistogram:
		b.out.WriteString("\tprintf(\"{\\\"time\\\": %lld, \\\"histogram\\\": \\\"\", (nsecs - @start_time) / 1000000000);\n")
		b.out.WriteString("\tprint(@hist);\n")
		b.out.WriteString("\tprintf(\"\\\"}\\n\");\n")

	case ModeBreakdown:
		top := b.top()
		format := "\tprintf(\"{\\\"time\\\": %lld, \\\"breakdown\\\": {\\\"last_frame\\\": [%lld, %lld]"
		args := []string{"(nsecs - @start_time) / 1000000000", durationGlobalVar(top.SourceLine), countGlobalVar(top.SourceLine)}
		for i := range b.breakdownFunctions {
			format += fmt.Sprintf(", \\\"%d\\\": [%%lld, %%lld]", i)
			args = append(args, durationBreakdownGlobalVar(i), countBreakdownGlobalVar(i))
		}
		format += "}}\\n\", " + strings.Join(args, ", ") + ");\n"
		b.out.WriteString(format)

	default:
		lines := append([]int{b.top().SourceLine}, b.tracedLines()...)
		format := "\tprintf(\"{\\\"time\\\": %lld, \\\"lines\\\": {"
		args := []string{"(nsecs - @start_time) / 1000000000"}
		for i, line := range lines {
			if i > 0 {
				format += ", "
			}
			format += fmt.Sprintf("\\\"%d\\\": [%%lld, %%lld]", line)
			args = append(args, durationGlobalVar(line), countGlobalVar(line))
		}
		format += "}}\\n\", " + strings.Join(args, ", ") + ");\n"
		b.out.WriteString(format)
	}
	b.out.WriteString("}\n")
}
