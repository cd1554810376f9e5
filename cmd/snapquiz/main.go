package main

import "github.com/vietddude/snapquiz/internal/cli"

func main() {
	cli.Execute()
}
