package main

import "mentormodule/process/sanitize"

func main() {
	sanitize.Run()
}
