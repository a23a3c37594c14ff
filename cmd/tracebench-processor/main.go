// Command tracebench-processor reads a collector's length-prefixed buffer
// log offline, reconstructs every trace it contains, and prints the
// (interval, trigger) x status histogram spec.md §4.6/§7 describes.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mpi-sws-rg/tracebench/reconstruct"
	"github.com/sirupsen/logrus"
)

func main() {
	debug := flag.Bool("d", false, "print debug information (spammy)")
	warn := flag.Bool("w", false, "print information about malformed traces")
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	if flag.NArg() < 1 {
		logrus.Fatal("expected the collector data file as the positional argument")
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		logrus.WithError(err).Fatal("opening collector data file")
	}
	defer f.Close()

	raws, err := reconstruct.ReadBuffers(f)
	if err != nil {
		// A truncated or malformed trailing record is not fatal: raws
		// already holds everything parsed before it, and the original's
		// own reader keeps going with whatever it has rather than
		// throwing away a full collector log over one bad record.
		logrus.WithError(err).Warn("collector data file ended early; reporting buffers parsed so far")
	}
	logrus.Debugf("read %d raw buffers", len(raws))

	outcomes := reconstruct.Reconstruct(raws)
	if *warn {
		for _, o := range outcomes {
			if o.Status != reconstruct.StatusValid {
				logrus.Warnf("trace %d: %s", o.TraceID, o.Status)
			}
		}
	}

	fmt.Print(reconstruct.Report(outcomes))
}
