// Copyright (C) 2024 The fdistdump-go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command fdistdump is the single binary every participant in a query
// runs (spec.md §4.7): the same flags are parsed on every rank, but only
// rank 0's task content is ever used, since bootstrap.Run broadcasts it
// and discards what every other rank parsed locally.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/CESNET/fdistdump-sub002/bootstrap"
	"github.com/CESNET/fdistdump-sub002/config"
	"github.com/CESNET/fdistdump-sub002/ferrors"
	"github.com/CESNET/fdistdump-sub002/field"
	"github.com/CESNET/fdistdump-sub002/progress"
	"github.com/CESNET/fdistdump-sub002/query"
	"github.com/CESNET/fdistdump-sub002/render"
)

var (
	filterExpr    string
	timeBegin     string
	timeEnd       string
	limit         uint64
	modeFlag      string
	fieldsFlag    string
	orderFlag     string
	useFastTopN   bool
	useBloomIndex bool
	outputFormat  string
	progressFlag  string
	peersFile     string
	rankFlag      int
	threads       int
	metricsAddr   string
)

func init() {
	flag.CommandLine.Usage = printHelp

	flag.StringVar(&filterExpr, "filter", "", "filter expression, e.g. \"srcport == 80 and bytes > 1500\"")
	flag.StringVar(&timeBegin, "time-begin", "", "RFC3339 start of the query window (inclusive)")
	flag.StringVar(&timeEnd, "time-end", "", "RFC3339 end of the query window (exclusive)")
	flag.Uint64Var(&limit, "limit", 0, "record limit for list/sort/aggr modes, 0 for unbounded")
	flag.StringVar(&modeFlag, "mode", "list", "query mode: list, sort, aggr, or meta")
	flag.StringVar(&fieldsFlag, "fields", "", "aggregation/output fields descriptor, see field.ParseSpec")
	flag.StringVar(&orderFlag, "order", "", "sort key for sort/aggr modes: field[#func][,asc|desc]")
	flag.BoolVar(&useFastTopN, "use-fast-topn", false, "use the TPUT threshold protocol for aggr top-N")
	flag.BoolVar(&useBloomIndex, "use-bfindex", false, "consult a per-file bloom index to skip whole files")
	flag.StringVar(&outputFormat, "output-format", "pretty", "output format: pretty or csv")
	flag.StringVar(&progressFlag, "progress", "none", "progress display: none, total, perworker, or json")
	flag.StringVar(&peersFile, "peers", "", "YAML file listing the cluster's participant addresses")
	flag.IntVar(&rankFlag, "rank", -1, "this process's rank when using --peers (ignored with FDISTDUMP_RANK)")
	flag.IntVar(&threads, "threads", 4, "worker file-loop goroutine pool size")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "optional Prometheus /metrics listen address")
}

func printHelp() {
	fmt.Fprintln(os.Stderr, "usage: fdistdump [flags] path [path ...]")
	flag.PrintDefaults()
}

func main() {
	flag.Parse()
	task, err := buildTask(flag.Args())
	if err != nil {
		exit(err)
	}
	cluster, err := resolveCluster()
	if err != nil {
		exit(err)
	}

	logger := log.New(os.Stderr, "", 0)

	progMode, err := progress.ParseMode(progressFlag)
	if err != nil {
		exit(err)
	}
	format, err := render.ParseFormat(outputFormat)
	if err != nil {
		exit(err)
	}

	opts := bootstrap.Options{
		Cluster:      cluster,
		Task:         task,
		Threads:      threads,
		ProgressMode: progMode,
		OutputFormat: format,
		MetricsAddr:  metricsAddr,
		Logger:       logger,
		Out:          os.Stdout,
	}
	if err := bootstrap.Run(opts); err != nil {
		exit(err)
	}
}

// buildTask assembles the task descriptor this process would broadcast
// were it rank 0; every other rank parses the identical flags but never
// uses the result, since bootstrap.Run overwrites it with rank 0's
// broadcast.
func buildTask(paths []string) (*query.Task, error) {
	if len(paths) == 0 {
		return nil, ferrors.Newf(ferrors.KindArgs, "at least one data path is required")
	}
	mode, err := query.ParseMode(modeFlag)
	if err != nil {
		return nil, err
	}
	fields, err := field.ParseSpec(fieldsFlag)
	if err != nil {
		return nil, err
	}
	sortKey, err := field.ParseOrder(orderFlag)
	if err != nil {
		return nil, err
	}
	fields.Sort = sortKey

	begin, err := parseTimeFlag("--time-begin", timeBegin)
	if err != nil {
		return nil, err
	}
	end, err := parseTimeFlag("--time-end", timeEnd)
	if err != nil {
		return nil, err
	}

	return &query.Task{
		QueryID:       uuid.New(),
		Mode:          mode,
		Filter:        filterExpr,
		Paths:         paths,
		Begin:         begin,
		End:           end,
		Limit:         limit,
		Fields:        *fields,
		UseFastTopN:   useFastTopN,
		UseBloomIndex: useBloomIndex,
	}, nil
}

func parseTimeFlag(flagName, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, ferrors.Newf(ferrors.KindArgs, "%s: %v", flagName, err)
	}
	return t, nil
}

// resolveCluster prefers the FDISTDUMP_RANK/WORLD_SIZE/PEERS launcher
// convention over --peers when both are present (SPEC_FULL.md Section A),
// since a launcher setting the environment has already decided the
// deployment's shape.
func resolveCluster() (*config.Cluster, error) {
	cluster, ok, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if ok {
		return cluster, nil
	}
	if peersFile == "" {
		return nil, ferrors.Newf(ferrors.KindArgs,
			"either --peers or FDISTDUMP_RANK/FDISTDUMP_WORLD_SIZE/FDISTDUMP_PEERS must be set")
	}
	if rankFlag < 0 {
		return nil, ferrors.Newf(ferrors.KindArgs, "--rank is required alongside --peers")
	}
	return config.LoadPeersFile(peersFile, rankFlag)
}

func exit(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(ferrors.AsKind(err).ExitCode())
}
