package main

import "github.com/andresmejia3/facevote/cmd"

func main() {
	cmd.Execute()
}
