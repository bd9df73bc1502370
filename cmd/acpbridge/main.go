// acpbridge bridges ACP-speaking editors to a stream-json LM subprocess.
// The serve command runs the agent over stdio; validate checks the local
// environment without starting anything.
package main

func main() {
	Execute()
}
