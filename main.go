package main

import "github.com/craftline/waroute/cmd"

func main() {
	cmd.Execute()
}
