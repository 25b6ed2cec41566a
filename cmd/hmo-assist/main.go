package main

// @title           HMO Assist API
// @version         1.0
// @description     Benefits assistant for Israeli health fund members. Answers are grounded in the indexed knowledge base.

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8000
// @BasePath  /
// @schemes   http https

import (
	"os"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
