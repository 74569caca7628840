package main

import "github.com/KaramelBytes/manifold-cli/cmd"

func main() {
	cmd.Execute()
}
