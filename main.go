package main

import "github.com/andresmejia3/segflow/cmd"

func main() {
	cmd.Execute()
}
