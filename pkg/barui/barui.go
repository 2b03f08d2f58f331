// Package barui renders a terminal progress bar and adapts it to a
// vpwcore.StatusSink, so a bulk memory read can drive a visible bar instead
// of raw percent/retry/kbps text.
package barui

import (
	"fmt"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

func New(length int, text string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		length,
		progressbar.OptionSetWriter(ansi.NewAnsiStdout()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(text),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Sink drives a progressbar.ProgressBar from StatusUpdateProgressBar calls;
// AddUserMessage goes to a plain fmt.Println so it survives next to the
// bar's own redraws. The other status calls and AddDebugMessage are
// discarded.
type Sink struct {
	Bar    *progressbar.ProgressBar
	length int
}

func NewSink(length int, text string) *Sink {
	return &Sink{Bar: New(length, text), length: length}
}

func (s *Sink) StatusUpdateActivity(string)      {}
func (s *Sink) StatusUpdateTimeRemaining(string)  {}
func (s *Sink) StatusUpdateKbps(string)           {}
func (s *Sink) StatusUpdateRetryCount(string)     {}
func (s *Sink) StatusUpdatePercentDone(string)    {}

func (s *Sink) StatusUpdateProgressBar(fraction float64, indeterminate bool) {
	if indeterminate || s.length == 0 {
		return
	}
	_ = s.Bar.Set(int(fraction * float64(s.length)))
}

func (s *Sink) StatusUpdateReset() {}

// AddUserMessage prints alongside the bar without finishing it — diagnostic
// notes (4x refused, chip not identified, ...) can arrive well before the
// read loop completes. Only Close ends the bar, matching the teacher's
// call-once-at-the-end convention.
func (s *Sink) AddUserMessage(msg string) {
	fmt.Println(msg)
}

func (s *Sink) AddDebugMessage(string) {}

// Close finishes the bar. Call exactly once, after the read loop ends.
func (s *Sink) Close() { s.Bar.Finish() }
