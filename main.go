package main

import "github.com/kozaktomas/event-photos/cmd"

func main() {
	cmd.Execute()
}
