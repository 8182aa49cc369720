package main

import "github.com/vinodismyname/leverlab/internal/cli"

func main() {
	cli.Execute()
}
