package main

import (
	"flag"
	"os"

	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/netperf-analyzer/pkg/netperf/model"

	"cloud.google.com/go/bigquery"
)

var netperfSchema string

func init() {
	flag.StringVar(&netperfSchema, "netperf", "/var/spool/datatypes/netperf.json", "filename to write netperf schema")
}

func main() {
	flag.Parse()
	// Generate and save the schema for autoloading.
	sch, err := bigquery.InferSchema(model.ArchivalData{})
	rtx.Must(err, "failed to generate netperf schema")
	sch = bqx.RemoveRequired(sch)
	b, err := sch.ToJSONFields()
	rtx.Must(err, "failed to marshal netperf schema")
	err = os.WriteFile(netperfSchema, b, 0o644)
	rtx.Must(err, "failed to write netperf schema")
}
