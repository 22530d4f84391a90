package console

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scriptdbg/internal/debugger/breakpoint"
	"github.com/dshills/scriptdbg/internal/debugger/step"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want Request
	}{
		{"c", Request{Op: OpContinue, Frame: -1}},
		{"step", Request{Op: OpStep, Mode: step.Into, Frame: -1}},
		{"n", Request{Op: OpStep, Mode: step.Over, Frame: -1}},
		{"finish", Request{Op: OpStep, Mode: step.Out, Frame: -1}},
		{"step over", Request{Op: OpStep, Mode: step.Over, Frame: -1}},
		{"STEP out", Request{Op: OpStep, Mode: step.Out, Frame: -1}},
		{"p a + b * 2", Request{Op: OpEval, Expr: "a + b * 2", Frame: -1}},
		{"frame 2", Request{Op: OpFrame, Frame: 2}},
		{"bt", Request{Op: OpBacktrace, Frame: -1}},
		{"vars", Request{Op: OpVars, Frame: -1}},
		{"locals 1", Request{Op: OpVars, Frame: 1}},
		{"b main.sasm:3", Request{Op: OpBreak, Frame: -1,
			Location: breakpoint.Location{File: "main.sasm", Line: 3}}},
		{"break lib/a.sasm:7:4 if x > 1", Request{Op: OpBreak, Frame: -1, Expr: "x > 1",
			Location: breakpoint.Location{File: "lib/a.sasm", Line: 7, Column: 4}}},
		{"d", Request{Op: OpDelete, All: true, Frame: -1}},
		{"delete all", Request{Op: OpDelete, All: true, Frame: -1}},
		{"delete #3", Request{Op: OpDelete, ID: 3, Frame: -1}},
		{"disable 2", Request{Op: OpDisable, ID: 2, Frame: -1}},
		{"cond 2 n == 1", Request{Op: OpCondition, ID: 2, Expr: "n == 1", Frame: -1}},
		{"cond 2", Request{Op: OpCondition, ID: 2, Frame: -1}},
		{"throw uncaught", Request{Op: OpThrow, Arg: "uncaught", Frame: -1}},
		{"save bps.yaml", Request{Op: OpSave, Arg: "bps.yaml", Frame: -1}},
		{"quit", Request{Op: OpDetach, Frame: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLine_Errors(t *testing.T) {
	for _, line := range []string{
		"", "bogus", "step sideways", "eval", "frame", "frame -1", "frame x",
		"break", "break nofile", "enable", "enable zero", "delete 0", "throw", "save",
	} {
		t.Run(line, func(t *testing.T) {
			_, err := ParseLine(line)
			assert.Error(t, err)
		})
	}
	_, err := ParseLine("bogus")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		line string
		want Request
	}{
		{`{"cmd":"continue"}`, Request{Op: OpContinue, Frame: -1}},
		{`{"cmd":"step"}`, Request{Op: OpStep, Mode: step.Into, Frame: -1}},
		{`{"cmd":"next"}`, Request{Op: OpStep, Mode: step.Over, Frame: -1}},
		{`{"cmd":"step","mode":"out"}`, Request{Op: OpStep, Mode: step.Out, Frame: -1}},
		{`{"cmd":"eval","expr":"x","frame":1}`, Request{Op: OpEval, Expr: "x", Frame: 1}},
		{`{"cmd":"break","location":"m.sasm:4","condition":"y"}`, Request{Op: OpBreak, Frame: -1,
			Expr: "y", Location: breakpoint.Location{File: "m.sasm", Line: 4}}},
		{`{"cmd":"delete","all":true}`, Request{Op: OpDelete, All: true, Frame: -1}},
		{`{"cmd":"enable","id":4}`, Request{Op: OpEnable, ID: 4, Frame: -1}},
		{`{"cmd":"throw","mode":"all"}`, Request{Op: OpThrow, Arg: "all", Frame: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseJSON(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{
		`not json`, `{"cmd":"fly"}`, `{"cmd":"eval"}`, `{"cmd":"break","location":"x"}`,
		`{"cmd":"delete"}`, `{"cmd":"step","mode":"up"}`,
	} {
		_, err := ParseJSON(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseBreakpointSpec(t *testing.T) {
	loc, cond, err := ParseBreakpointSpec("  a.sasm:9 if  n > 2 ")
	require.NoError(t, err)
	assert.Equal(t, breakpoint.Location{File: "a.sasm", Line: 9}, loc)
	assert.Equal(t, "n > 2", cond)

	_, _, err = ParseBreakpointSpec("a.sasm")
	assert.Error(t, err)
}

func TestScanReader_SkipsBlankAndComments(t *testing.T) {
	r := NewScanReader(strings.NewReader("\n# setup\n  c  \n\nbt\n"))
	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "c", line)
	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "bt", line)
	_, err = r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, r.Close())
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "breakpoints", OpList.String())
	assert.Equal(t, "unknown", Op(99).String())
}
