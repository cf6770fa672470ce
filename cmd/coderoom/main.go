package main

import "github.com/mossy-p/coderoom/internal/cli"

func main() {
	cli.Execute()
}
