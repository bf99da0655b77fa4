package main

import "github.com/thanos/couchbase-ex/cmd"

func main() {
	cmd.Execute()
}
