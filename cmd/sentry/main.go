package main

import (
	"os"

	"horse.fit/sentry/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
