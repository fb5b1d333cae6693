package main

import "github.com/XERGER/EmbedPython/cmd"

func main() {
	cmd.Execute()
}
