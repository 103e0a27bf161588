// Package fatal provides the single unrecoverable-error exit path shared by
// every component. It mirrors the original channelizer's Fatal(ERR_x) calls
// (Beam.cpp, Receiver.cpp, Worker.cpp): log a diagnostic and terminate the
// process immediately, rather than return an error up a call chain that has
// no way to recover from e.g. a corrupted ring or an exhausted pool.
package fatal

import (
	"log"
	"os"
)

// Diagnoser is implemented by anything that can describe its own state for
// inclusion in a fatal dump — the ring's cursors, a pending list's size, and
// so on. Components register themselves at construction time so a fatal
// call anywhere can print a full picture of the pipeline.
type Diagnoser interface {
	Diagnose() string
}

var registered []Diagnoser

// Register adds d to the set dumped by every subsequent Fatalf call. It is
// called once per component at startup, from internal/app's composition
// root; there is no Unregister because the process exits on the first
// Fatalf.
func Register(d Diagnoser) {
	registered = append(registered, d)
}

// Fatalf logs format/args, dumps every registered component's diagnostic
// state, and calls os.Exit(1). It never returns.
func Fatalf(format string, args ...any) {
	log.Printf("FATAL: "+format, args...)
	for _, d := range registered {
		log.Printf("diagnostic: %s", d.Diagnose())
	}
	os.Exit(1)
}
