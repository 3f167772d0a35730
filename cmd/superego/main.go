package main

import "github.com/superego-ai/superego/cmd/superego/cmd"

func main() {
	cmd.Execute()
}
