package main

import "github.com/oshokin/dist-zipper/cmd/dist-zipper/cmd"

func main() {
	cmd.Execute()
}
