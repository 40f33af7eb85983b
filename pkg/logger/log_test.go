package logger

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	buf := &bytes.Buffer{}
	output, noColor, level := color.Output, color.NoColor, minStatus.Load()
	color.Output = buf
	color.NoColor = true
	t.Cleanup(func() {
		color.Output = output
		color.NoColor = noColor
		minStatus.Store(level)
	})

	return buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogStatus
	}{
		{"verbose", VERBOSE},
		{"DEBUG", DEBUG},
		{" info ", INFO},
		{"", INFO},
		{"warn", WARNING},
		{"warning", WARNING},
		{"error", ERROR},
		{"fatal", FATAL},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			level, err := ParseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}

	level, err := ParseLevel("loud")
	assert.Error(t, err)
	assert.Equal(t, INFO, level)
}

func TestEmitRespectsMinimumLevel(t *testing.T) {
	buf := captureOutput(t)
	SetMinLoggingLevel(WARNING.Level())

	log := Get("Test")
	log.Infof("hidden %d\n", 1)
	log.Debugf("hidden %d\n", 2)
	log.Warnf("shown %d\n", 3)
	log.Errorf("shown %d\n", 4)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[Test]")
	assert.Contains(t, out, "(!) shown 3")
	assert.Contains(t, out, "(!!) shown 4")
}

func TestSetMinLoggingLevelClamps(t *testing.T) {
	captureOutput(t)

	SetMinLoggingLevel(-10)
	assert.EqualValues(t, VERBOSE, minStatus.Load())

	SetMinLoggingLevel(100)
	assert.EqualValues(t, FATAL, minStatus.Load())
}
