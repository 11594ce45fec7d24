package main

import "github.com/ValentinKolb/genms/cmd"

func main() {
	cmd.Execute()
}
