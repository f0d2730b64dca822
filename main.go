package main

import "github.com/Yates-Labs/sevmine/cmd"

func main() {
	cmd.Execute()
}
