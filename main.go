package main

import "github.com/tallyfinance/tally/cmd"

func main() {
	cmd.Execute()
}
