package datatype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForTypeCoversAllConstants(t *testing.T) {
	types := []Type{
		TypeString, TypeInt64, TypeFloat,
		TypeListString, TypeListInt64, TypeListFloat,
		TypeSetString, TypeSetInt64, TypeSetFloat,
		TypeMapStringString, TypeMapStringInt64, TypeMapStringFloat,
		TypeSecretString,
	}
	for _, tt := range types {
		v := ForType(tt)
		if assert.NotNil(t, v, "ForType(%s)", tt) {
			assert.Equal(t, tt, v.Type())
		}
	}
}

func TestIsScalar(t *testing.T) {
	assert.True(t, IsScalar(TypeString))
	assert.True(t, IsScalar(TypeInt64))
	assert.True(t, IsScalar(TypeFloat))
	assert.True(t, IsScalar(TypeSecretString))
	assert.False(t, IsScalar(TypeListString))
	assert.False(t, IsScalar(TypeSetInt64))
	assert.False(t, IsScalar(TypeMapStringFloat))
}
