package main

import "github.com/bryanchriswhite/deskshot/cmd/deskshot/commands"

func main() {
	commands.Execute()
}
