package main

import "fmt"
import "os"
import _ "go.uber.org/automaxprocs"
import "github.com/lakehouse/metacoord/cmd"

func main() {
	if err := cmd.Command(nil).Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
