// Command worker is the Worker Runtime entry point described in
// SPEC_FULL.md §4.3: invoked by process.Manager as
// `<this binary> <worker-script-path>`, it executes exactly one task
// read from stdin and exits.
//
// A host application builds its own copy of this binary (or a thin
// wrapper importing workerrun.Run) after registering its callables
// against registry.Default() in an init(), so the worker process
// resolves the same named functions the parent process serialized
// against.
package main

import (
	"os"

	"github.com/hiblaphp/parallel-sub000/registry"
	"github.com/hiblaphp/parallel-sub000/workerrun"
)

func main() {
	os.Exit(workerrun.Run(registry.Default()))
}
