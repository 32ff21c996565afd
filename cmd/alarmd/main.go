package main

import "github.com/oshokin/alarm-keeper/cmd/alarmd/cmd"

func main() {
	cmd.Execute()
}
