// Package main is sharectl, a command-line endpoint for remote sessions: it probes the link,
// shares a VP8 capture as host or views and records a session's display stream.
package main

func main() {
	Execute()
}
