// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command parmap runs a set of example parmap workloads against a
// session configured by the parmap profile. Each workload maps a
// function over its inputs, checks the results, and reports them.
//
// Usage:
//
//	parmap [-n N] [-nchunk N] [-http addr] [-wait] [workload...]
//
// If no workloads are named, all of them are run, concurrently.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/parmap/mapconfig"
	"golang.org/x/sync/errgroup"
)

func usage() {
	names := make([]string, 0, len(workloads))
	for name := range workloads {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(os.Stderr, `usage: parmap [flags] [workload...]

Command parmap runs example parmap workloads. The available workloads are:

	%s

Flags:
`, strings.Join(names, "\n\t"))
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	var (
		n        = flag.Int("n", 10, "number of units of work in each workload")
		nchunk   = flag.Int("nchunk", 4, "number of chunks for the chunks workload")
		httpAddr = flag.String("http", "", "serve Prometheus metrics on this address")
		wait     = flag.Bool("wait", false, "don't exit after completion")
	)
	log.AddFlags()
	must.Func = log.Fatal
	flag.Usage = usage
	sess, shutdown := mapconfig.Parse()
	defer shutdown()

	if *n <= 0 || *nchunk <= 0 {
		flag.Usage()
	}
	names := flag.Args()
	if len(names) == 0 {
		for name := range workloads {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		if workloads[name] == nil {
			fmt.Fprintf(os.Stderr, "unknown workload %s\n", name)
			flag.Usage()
		}
	}

	if *httpAddr != "" {
		http.Handle("/metrics", metricsHandler(sess))
		go func() {
			log.Printf("serving metrics on %s", *httpAddr)
			if err := http.ListenAndServe(*httpAddr, nil); err != nil {
				log.Error.Printf("http: %v", err)
			}
		}()
	}

	g, ctx := errgroup.WithContext(context.Background())
	params := params{n: *n, nchunk: *nchunk}
	for _, name := range names {
		name, run := name, workloads[name]
		g.Go(func() error {
			out, err := run(ctx, sess, params)
			if err != nil {
				return fmt.Errorf("%s: %v", name, err)
			}
			log.Printf("%s: ok", name)
			fmt.Printf("%s: %s\n", name, out)
			return nil
		})
	}
	err := g.Wait()
	if *wait {
		if err != nil {
			log.Printf("finished with error %v: waiting", err)
		} else {
			log.Print("done: waiting")
		}
		<-make(chan struct{})
	}
	must.Nil(err)
}
