package dispatch

import (
	"fmt"
	"io"
	"sync"
)

// Emitter writes rendered commands and pass markers, one per line. Nothing
// else may be written to its writer.
type Emitter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEmitter creates an emitter over w, normally os.Stdout.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes one command line.
func (e *Emitter) Emit(cmd Command) error {
	return e.writeLine(cmd.String())
}

// Done marks the end of a bucket pass.
func (e *Emitter) Done(bucket string) error {
	return e.writeLine("echo done " + bucket)
}

// Note writes an informational marker that is harmless when executed.
func (e *Emitter) Note(msg string) error {
	return e.writeLine("echo " + msg)
}

func (e *Emitter) writeLine(line string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := fmt.Fprintln(e.w, line); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
