// Command climate-scheduler decides once per tick whether to switch on the
// air conditioner, based on time-of-day trigger rules, the room temperature
// and the working-day calendar.
package main

import (
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
