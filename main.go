package main

import "github.com/samialraiee/aps-inference-scheduler/cmd"

func main() {
	cmd.Execute()
}
