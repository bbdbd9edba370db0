package main

import "github.com/MeKo-Tech/boxfuse/cmd/boxfuse/cmd"

func main() {
	cmd.Execute()
}
