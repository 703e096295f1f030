package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	t.Parallel()

	for _, st := range Statuses {
		got, err := ParseStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
		assert.True(t, st.Valid())
	}

	_, err := ParseStatus("submitted")
	require.Error(t, err)
	assert.False(t, Status("Completed").Valid())
}

func TestCase_Key(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "local-1", Case{ID: "local-1", CaseID: "42"}.Key())
	assert.Equal(t, "42", Case{CaseID: "42"}.Key())
	assert.Empty(t, Case{}.Key())
}

func TestCaseImage_HasCoordinates(t *testing.T) {
	t.Parallel()

	lat, lng := 19.07, 72.87

	assert.False(t, CaseImage{}.HasCoordinates())
	assert.False(t, CaseImage{Latitude: &lat}.HasCoordinates())
	assert.True(t, CaseImage{Latitude: &lat, Longitude: &lng}.HasCoordinates())
}
