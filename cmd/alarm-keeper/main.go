package main

import "github.com/oshokin/alarm-keeper/cmd/alarm-keeper/cmd"

func main() {
	cmd.Execute()
}
