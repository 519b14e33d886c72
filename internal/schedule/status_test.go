package schedule

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		status Status
		code   string
		name   string
	}{
		{StatusInitial, "I", "initial"},
		{StatusRunning, "R", "running"},
		{StatusCompleted, "C", "completed"},
		{StatusFailed, "F", "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.status.Code())
			assert.Equal(t, tt.name, tt.status.String())

			parsed, err := ParseStatus(tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.status, parsed)
		})
	}

	_, err := ParseStatus("X")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Status(42).String())
}

func TestParseOverride(t *testing.T) {
	s, err := ParseOverride("I")
	require.NoError(t, err)
	assert.Equal(t, StatusInitial, s)

	s, err = ParseOverride("C")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s)

	for _, code := range []string{"R", "F", "c", ""} {
		_, err := ParseOverride(code)
		require.Error(t, err, code)
		assert.True(t, errors.Is(err, ErrValidation))
		assert.Contains(t, errors.FlattenHints(err), "I or C")
	}
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate(" 2024-02-29 ")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d)

	for _, bad := range []string{"2023-02-29", "2024-1-1", "20240101", ""} {
		_, err := ParseDate(bad)
		assert.True(t, errors.Is(err, ErrValidation), bad)
	}
}
