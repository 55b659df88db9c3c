package main

import "issuetriage/internal/app"

func main() {
	app.Main()
}
