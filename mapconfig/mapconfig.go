// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package mapconfig provides a mechanism to create a parmap session
// from a shared configuration. Mapconfig uses the configuration
// mechanism in package github.com/grailbio/base/config, and reads a
// default profile from $HOME/.parmap/config.
//
// A profile that runs every worker in its own EC2 instance, with at
// most 64 workers at a time, looks like this:
//
//	param parmap (
//		system = ec2system
//		parallelism = 64
//	)
package mapconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/parmap/exec"
)

// Path determines the location of the parmap profile read by Parse.
var Path = os.ExpandEnv("$HOME/.parmap/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// parmap configuration from Path defined in this package. Parse
// returns the session as configured by the configuration and any
// flags provided. Parse panics if session creation fails.
func Parse() (sess *exec.Session, shutdown func()) {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	config.Must("parmap", &sess)
	return sess, sess.Shutdown
}
