package main

import "github.com/bdlab/biblioteca/pkg/cli"

func main() {
	cli.Execute(cli.NewCommand(cli.Options{
		Name:        "biblioteca",
		Description: "Library database tools: transaction demo and document schema catalog",
	}))
}
