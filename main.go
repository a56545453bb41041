// The main package for the mingpao-archiver executable.
package main

import "github.com/openhkarchive/mingpao-archiver/cmd"

func main() {
	cmd.Execute()
}
