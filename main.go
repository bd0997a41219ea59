package main

import "github.com/voxtally/voxtally/cmd"

func main() {
	cmd.Execute()
}
