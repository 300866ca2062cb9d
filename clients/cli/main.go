package main

import "cipherfeed/clients/cli/cmd"

func main() {
	cmd.Execute()
}
