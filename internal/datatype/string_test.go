package datatype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringApplySetAppendPrepend(t *testing.T) {
	var s String
	out, err := s.Apply([]byte("llo"), []Mutation{
		{Op: OpStringPrepend, Arg: []byte("he")},
		{Op: OpStringAppend, Arg: []byte(" world")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestStringApplyWrongAction(t *testing.T) {
	var s String
	_, err := s.Apply(nil, []Mutation{{Op: OpNumAdd, Arg: []byte("x")}})
	assert.ErrorIs(t, err, ErrWrongAction)
}

func TestSecretStringOnlySupportsSet(t *testing.T) {
	var s SecretString
	out, err := s.Apply(nil, []Mutation{{Op: OpSet, Arg: []byte("token")}})
	require.NoError(t, err)
	assert.Equal(t, "token", string(out))

	_, err = s.Apply([]byte("token"), []Mutation{{Op: OpStringAppend, Arg: []byte("x")}})
	assert.ErrorIs(t, err, ErrWrongAction)
}
