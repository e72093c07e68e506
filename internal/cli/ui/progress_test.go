package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpinner_StartStop(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinner(&buf, SpinnerOptions{
		Message:  "Connecting",
		NoColor:  true,
		Interval: 10 * time.Millisecond,
	})

	spinner.Start()
	time.Sleep(50 * time.Millisecond)
	spinner.UpdateMessage("Waiting for port")
	time.Sleep(50 * time.Millisecond)
	spinner.Stop()

	out := buf.String()
	assert.Contains(t, out, "Connecting")
	assert.Contains(t, out, "Waiting for port")
	assert.True(t, strings.HasSuffix(out, "\r\033[K"), "stop clears the line")
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinner(&buf, SpinnerOptions{NoColor: true})

	spinner.Stop()
	spinner.Stop()
	assert.Empty(t, buf.String())
}

func TestSpinner_Restart(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinner(&buf, SpinnerOptions{Message: "x", NoColor: true, Interval: 5 * time.Millisecond})

	spinner.Start()
	spinner.Stop()
	spinner.Start()
	spinner.Stop()
	assert.Equal(t, 2, strings.Count(buf.String(), "\r\033[K"))
}

func TestProgressBar_Set(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		want    string
	}{
		{"empty", 0, "\r[░░░░░░░░░░]   0% Loading"},
		{"half", 50, "\r[█████░░░░░]  50% Loading"},
		{"full", 100, "\r[██████████] 100% Loading"},
		{"clamped high", 150, "\r[██████████] 100% Loading"},
		{"clamped low", -5, "\r[░░░░░░░░░░]   0% Loading"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			bar := NewProgressBar(&buf, ProgressBarOptions{Width: 10, Message: "Loading", NoColor: true})
			bar.Set(tt.percent)
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestProgressBar_Finish(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, ProgressBarOptions{NoColor: true})

	bar.Set(30)
	assert.Equal(t, 30, bar.Percent())
	bar.Finish()

	assert.Equal(t, 100, bar.Percent())
	assert.True(t, strings.HasSuffix(buf.String(), "100%\n"))
	assert.Contains(t, buf.String(), strings.Repeat("█", 40), "default width is 40")
}
