package main

import "github.com/coterie-ai/coterie/cmd"

func main() {
	cmd.Execute()
}
