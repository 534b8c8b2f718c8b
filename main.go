package main

import "github.com/luastore/ms-go-checkout/cmd"

func main() {
	cmd.Execute()
}
