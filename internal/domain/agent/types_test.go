package agent

import (
	"errors"
	"testing"
	"time"

	ferryerrors "ferry/internal/shared/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		raw  string
		want Kind
	}{
		{raw: "", want: KindClaudeCode},
		{raw: "claude-code", want: KindClaudeCode},
		{raw: " Claude_Code ", want: KindClaudeCode},
		{raw: "simulated", want: KindSimulated},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := ParseKind("gpt-engineer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ferryerrors.ErrUnknownAgent))
}

func TestRequestValidate(t *testing.T) {
	require.NoError(t, Request{Instructions: "port it", WorkingDir: "/tmp/target"}.Validate())

	err := Request{Instructions: "port it", WorkingDir: "relative/dir"}.Validate()
	assert.True(t, errors.Is(err, ferryerrors.ErrInvalidArgument))

	err = Request{Instructions: "  ", WorkingDir: "/tmp"}.Validate()
	assert.True(t, errors.Is(err, ferryerrors.ErrInvalidArgument))
}

func TestResultDurationMS(t *testing.T) {
	r := Result{Duration: 1500 * time.Millisecond}
	assert.Equal(t, int64(1500), r.DurationMS())
}
