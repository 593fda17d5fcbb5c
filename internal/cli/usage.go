package cli

import "fmt"

func printUsage() {
	fmt.Print(`runwatch - follow a naming run's progress and candidates

Usage:
  runwatch watch <run-id>       stream run progress until it finishes
  runwatch candidates <run-id>  fetch one page of the run's candidates
  runwatch clearance <run-id>   start clearance checks for the run
  runwatch journal <run-id>     print journaled sync events for the run
  runwatch metrics              print aggregated sync health counters
  runwatch help                 show this help

Flags:
  --config=PATH       JSON config file (see clientconfig)
  --base-url=URL      backend base URL (or RUNWATCH_BASE_URL)
  --api-key=KEY       bearer token (or RUNWATCH_API_KEY)
  --transport=sse|ws  push transport (default sse)
  --journal=PATH      sqlite journal for sync telemetry
  --redis=ADDR        mirror snapshots into Redis
  --filter= --sort= --page=N
                      candidate list query parameters
`)
}
