package main

import "pool-price-alerts/internal/cli"

func main() {
	cli.Execute()
}
