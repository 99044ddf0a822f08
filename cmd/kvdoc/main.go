// Command kvdoc inspects and maintains kvdoc stores.
package main

import "github.com/jacentio/kvdoc/internal/cli"

func main() {
	cli.Execute()
}
