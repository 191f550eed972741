package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a message while a slow store operation runs. When
// disabled (non-interactive output) it prints nothing until it finishes.
type Spinner struct {
	w        io.Writer
	message  string
	disabled bool

	start sync.Once
	stop  sync.Once
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewSpinner creates a spinner. Pass enabled=false for scripts and JSON
// output.
func NewSpinner(w io.Writer, message string, enabled bool) *Spinner {
	return &Spinner{w: w, message: message, disabled: !enabled, done: make(chan struct{})}
}

// Start begins the animation.
func (s *Spinner) Start() {
	if s.disabled {
		return
	}
	s.start.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			tick := time.NewTicker(100 * time.Millisecond)
			defer tick.Stop()
			for i := 0; ; i++ {
				fmt.Fprintf(s.w, "\r%s %s", spinnerFrames[i%len(spinnerFrames)], s.message)
				select {
				case <-s.done:
					return
				case <-tick.C:
				}
			}
		}()
	})
}

func (s *Spinner) finish(line string) {
	s.stop.Do(func() {
		close(s.done)
		s.wg.Wait()
		if !s.disabled {
			fmt.Fprint(s.w, "\r\033[K")
		}
		if line != "" {
			fmt.Fprintln(s.w, line)
		}
	})
}

// Stop ends the animation and clears the line.
func (s *Spinner) Stop() { s.finish("") }

// Success ends the animation with a success line.
func (s *Spinner) Success(message string) { s.finish("✓ " + message) }

// Fail ends the animation with a failure line.
func (s *Spinner) Fail(message string) { s.finish("✗ " + message) }
