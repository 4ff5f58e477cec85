package main

import (
	"log"

	"TrancheBank/cmd/bankd/cmd"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cmd.Execute()
}
