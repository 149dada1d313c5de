package main

import "github.com/oshokin/relpack/cmd/relpack/cmd"

func main() {
	cmd.Execute()
}
