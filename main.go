package main

import "github.com/ValentinKolb/dPersist/cmd"

func main() {
	cmd.Execute()
}
