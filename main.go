package main

import "github.com/nextlevelbuilder/asa/cmd"

func main() {
	cmd.Execute()
}
