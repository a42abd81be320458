package loadgen

import "os"

// ShowHelp prints usage information for the load tool.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`blitzrec load generator
=======================

Submits synthetic observations and recommendation requests to a running
service and checks that every prediction lies in [0,1].

Usage:
  loadgen [options]

Options:
  -url string              Base URL of the service (default "http://localhost:9080")
  -observations int        Observations to submit (default 10000)
  -recommendations int     Recommendation requests (default 1000)
  -accounts int            Synthetic accounts (default 2000)
  -tanks int               Synthetic vehicles (default 300)
  -workers int             Concurrent workers (default CPU cores * 2)
  -timeout duration        HTTP request timeout (default 30s)
  -settle duration         Pause before verification (default 5s)
  -seed uint               Population seed (default 1)
  -verbose                 Log failed requests
  -help                    Show this help message
`)
}
