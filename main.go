package main

import "github.com/xkilldash9x/consentscope/cmd"

func main() {
	cmd.Execute()
}
