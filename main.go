package main

import "github.com/khanhnv2901/sentinelscope/cmd"

var execCmd = cmd.Execute

func main() {
	execCmd()
}
