package main

import "github.com/aweist/lab-booking/cmd"

func main() {
	cmd.Execute()
}
