package main

import "github.com/nextlevelbuilder/ian/cmd"

func main() {
	cmd.Execute()
}
