package opcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	for _, op := range []Op{Constant, Add, Switch, Func} {
		parsed, err := Parse(op.String())
		require.NoError(t, err)
		require.Equal(t, op, parsed)
	}
	_, err := Parse("unknown")
	require.Error(t, err)
	_, err = Parse("mul")
	require.Error(t, err)
	require.Equal(t, "Op(200)", Op(200).String())
}

func TestInDegree(t *testing.T) {
	t.Parallel()
	require.Equal(t, 0, Constant.InDegree())
	require.Equal(t, 2, Add.InDegree())
	require.Equal(t, 3, Switch.InDegree())
	require.True(t, Func.Variadic())
	require.Equal(t, 0, Func.InDegree())
	require.False(t, Add.Variadic())
}
