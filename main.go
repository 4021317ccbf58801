// The main package for the casawatch executable.
package main

import (
	"casawatch/cmd"
)

func main() {
	cmd.Execute()
}
