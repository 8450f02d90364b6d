package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCallHashIsDeterministic(t *testing.T) {
	args := Args{"dao_id": "DAO1", "amount": 100}
	first, err := ComputeCallHash("DaoCore", "destroy_dao", args)
	require.NoError(t, err)

	// Same call built in a different insertion order hashes identically.
	again := Args{}
	again["amount"] = 100
	again["dao_id"] = "DAO1"
	second, err := ComputeCallHash("DaoCore", "destroy_dao", again)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Regexp(t, `^0x[0-9a-f]{64}$`, first)
}

func TestComputeCallHashSeparatesCalls(t *testing.T) {
	args := Args{"dao_id": "DAO1"}
	destroy, err := ComputeCallHash("DaoCore", "destroy_dao", args)
	require.NoError(t, err)
	create, err := ComputeCallHash("DaoCore", "create_dao", args)
	require.NoError(t, err)
	otherArgs, err := ComputeCallHash("DaoCore", "destroy_dao", Args{"dao_id": "DAO2"})
	require.NoError(t, err)

	assert.NotEqual(t, destroy, create)
	assert.NotEqual(t, destroy, otherArgs)
}
