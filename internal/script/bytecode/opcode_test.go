package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	var code []byte
	var err error
	code, err = Encode(code, OpConst, 513)
	require.NoError(t, err)
	code, err = Encode(code, OpLoadUp, 2, 7)
	require.NoError(t, err)
	code, err = Encode(code, OpSwitch, 10, 20, 30)
	require.NoError(t, err)
	code, err = Encode(code, OpReturn)
	require.NoError(t, err)

	in, err := Decode(code, 0, OpConst)
	require.NoError(t, err)
	assert.Equal(t, []int{513}, in.Operands)
	assert.Equal(t, 3, in.Next())

	in, err = Decode(code, 3, OpLoadUp)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 7}, in.Operands)
	assert.Equal(t, 4, in.Size)

	in, err = Decode(code, 7, OpSwitch)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30}, in.Targets)
	assert.Equal(t, 8, in.Size)
	assert.True(t, in.IsOpaque())
	_, ok := in.JumpTarget()
	assert.False(t, ok)

	in, err = Decode(code, 15, OpReturn)
	require.NoError(t, err)
	assert.True(t, in.IsReturn())
	assert.False(t, in.FallsThrough())
}

func TestDecodeTrappedInstruction(t *testing.T) {
	code, err := Encode(nil, OpJumpIfFalse, 42)
	require.NoError(t, err)
	code[0] = byte(OpTrap)

	// The operand bytes survive the trap; decoding uses the saved opcode.
	in, err := Decode(code, 0, OpJumpIfFalse)
	require.NoError(t, err)
	target, ok := in.JumpTarget()
	assert.True(t, ok)
	assert.Equal(t, 42, target)

	_, err = Decode(code, 0, OpTrap)
	assert.Error(t, err)
}

func TestEncodeRejectsBadOperands(t *testing.T) {
	_, err := Encode(nil, OpConst)
	assert.Error(t, err)
	_, err = Encode(nil, OpCall, 256)
	assert.Error(t, err)
	_, err = Encode(nil, OpTrap)
	assert.Error(t, err)
}

func TestDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{byte(OpConst), 0}, 0, OpConst)
	assert.Error(t, err)
	_, err = Decode([]byte{byte(OpSwitch), 2, 0, 1}, 0, OpSwitch)
	assert.Error(t, err)
}

func TestLookupOpcode(t *testing.T) {
	for op := Opcode(0); op < opCount; op++ {
		got, ok := LookupOpcode(op.String())
		require.True(t, ok, op.String())
		assert.Equal(t, op, got)
	}
	_, ok := LookupOpcode("trap")
	assert.False(t, ok)
	assert.True(t, OpTrap.Valid())
	assert.False(t, Opcode(0xF0).Valid())
}
