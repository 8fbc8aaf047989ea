// Package main is a command-line caller of the broker.
//
// fetch sends one HTTP request through a running broker on behalf of an
// origin and prints the response body. When the origin lacks permission
// for the target host, fetch asks on the terminal (or, with -remote, opens
// a prompt on the broker and waits for a decision) and retries once.
//
// Usage:
//
//	./fetch -origin https://app.example https://api.example/data
//	./fetch -X POST -d '{"a":1}' -H 'Content-Type: application/json' https://api.example/items
package main
