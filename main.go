package main

import "github.com/andresmejia3/posesync/cmd"

func main() {
	cmd.Execute()
}
