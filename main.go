package main

import "github.com/elijahnyp/home_bridge/cmd"

func main() {
	cmd.Execute()
}
