package main

import "github.com/Manali-J/monji/cmd"

func main() {
	cmd.Execute()
}
