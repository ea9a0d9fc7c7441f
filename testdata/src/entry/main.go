package main

var ready int

// read is checked on its own, callers other than main may have run anything before.
func read() int {
	return ready // want `TL000: MustCheckLoad`
}

// The program starts here, nothing else could have written ready yet.
func main() {
	println(ready + read())
}
