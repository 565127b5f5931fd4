package main

import "github.com/studypair/callkit/cmd/callcli/cmd"

func main() {
	cmd.Execute()
}
