package main

import "otc-risk-shield/internal/cli"

func main() {
	cli.Execute()
}
