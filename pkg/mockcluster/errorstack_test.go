package mockcluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorStackStore_FIFOPerApiKey(t *testing.T) {
	var s errorStackStore

	s.push(apiKeyMetadata, []int16{5, 6})

	code, ok := s.next(apiKeyMetadata)
	require.True(t, ok)
	assert.EqualValues(t, 5, code)

	code, ok = s.next(apiKeyMetadata)
	require.True(t, ok)
	assert.EqualValues(t, 6, code)

	// Third call: the stack for this ApiKey is now empty and was removed.
	_, ok = s.next(apiKeyMetadata)
	assert.False(t, ok, "stack should be exhausted after its two errors are consumed")
}

func TestErrorStackStore_WildcardScope(t *testing.T) {
	var s errorStackStore

	s.push(apiKeyAny, []int16{1})

	code, ok := s.next(apiKeyProduce)
	require.True(t, ok)
	assert.EqualValues(t, 1, code)

	_, ok = s.next(apiKeyFetch)
	assert.False(t, ok, "wildcard stack should be consumed by the first matching request regardless of ApiKey")
}

func TestErrorStackStore_ScopedStackDoesNotMatchOtherApiKeys(t *testing.T) {
	var s errorStackStore

	s.push(apiKeyProduce, []int16{9})

	_, ok := s.next(apiKeyFetch)
	assert.False(t, ok, "a stack scoped to Produce must not apply to Fetch")

	code, ok := s.next(apiKeyProduce)
	require.True(t, ok)
	assert.EqualValues(t, 9, code)
}

func TestErrorStackStore_InsertionOrderAcrossStacks(t *testing.T) {
	var s errorStackStore

	s.push(apiKeyProduce, []int16{1})
	s.push(apiKeyAny, []int16{2})

	// The Produce-scoped stack was pushed first, so it is consulted first
	// even though the wildcard stack also matches Produce requests.
	code, ok := s.next(apiKeyProduce)
	require.True(t, ok)
	assert.EqualValues(t, 1, code)

	code, ok = s.next(apiKeyProduce)
	require.True(t, ok)
	assert.EqualValues(t, 2, code)
}

func TestErrorStackStore_EmptyPushIsNoOp(t *testing.T) {
	var s errorStackStore
	s.push(apiKeyMetadata, nil)
	_, ok := s.next(apiKeyMetadata)
	assert.False(t, ok)
}
