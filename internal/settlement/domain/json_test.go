package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONMap_ValueScan(t *testing.T) {
	m := JSONMap{"level": 1, "description": "referral bonus"}
	v, err := m.Value()
	require.NoError(t, err)

	var got JSONMap
	require.NoError(t, got.Scan(v))
	assert.Equal(t, "referral bonus", got["description"])
	assert.EqualValues(t, 1, got["level"])

	require.NoError(t, got.Scan([]byte(`{"a":"b"}`)))
	assert.Equal(t, JSONMap{"a": "b"}, got)

	require.NoError(t, got.Scan(nil))
	assert.Empty(t, got)

	assert.Error(t, got.Scan(42))
}

func TestJSONMap_NilValue(t *testing.T) {
	var m JSONMap
	v, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}
