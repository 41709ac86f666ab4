// ./main.go
package main

import (
	"github.com/xkilldash9x/crucible/cmd"
)

// main is the entry point for the Crucible CLI application.
func main() {
	cmd.Execute()
}
