// Command docstorectl inspects and edits a docstore table from the command
// line.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand(defaultOptions()).Execute(); err != nil {
		os.Exit(1)
	}
}
