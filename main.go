package main

import "parcelhub/cmd"

func main() {
	cmd.Execute()
}
