package main

import "github.com/nekrassov01/instancebot/cmd"

func main() {
	cmd.Execute()
}
