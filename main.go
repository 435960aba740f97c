package main

import (
	"flag"
	"log"

	"ancla-aem/core/appbootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()
	if err := appbootstrap.Run(*configPath); err != nil {
		log.Fatal(err)
	}
}
