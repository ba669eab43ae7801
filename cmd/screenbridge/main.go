package main

import "github.com/bryanchriswhite/ScreenBridge/cmd/screenbridge/commands"

func main() {
	commands.Execute()
}
