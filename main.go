// The main package for the serp-archiver executable.
package main

import (
	"github.com/JakeFAU/serp-archiver/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
