package main

import "tether/cmd/client/cmd"

func main() {
	cmd.Execute()
}
