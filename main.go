package main

import "github.com/St0nefish/discord-openai/cmd"

func main() {
	cmd.Execute()
}
