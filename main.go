// The main package for the pricesense executable.
package main

import (
	"github.com/pricesense/crawler/cmd"
)

func main() {
	cmd.Execute()
}
