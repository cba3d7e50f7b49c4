package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gracexichen/L-Store-Database/db"
	"github.com/gracexichen/L-Store-Database/merge"
	"github.com/gracexichen/L-Store-Database/query"
)

const (
	benchTable   = "bench"
	benchColumns = 5
)

var (
	benchCmd = &cobra.Command{
		Use:   "bench",
		Short: "Time inserts, updates, selects, and sums of random records",
		RunE:  benchRun,
	}

	benchRecords = 10000
	benchWorkers = 4
	benchSeed    = int64(1)
	benchKeep    = false
)

func init() {
	fs := benchCmd.Flags()
	fs.IntVar(&benchRecords, "records", benchRecords, "`number` of records")
	fs.IntVar(&benchWorkers, "workers", benchWorkers, "`number` of concurrent workers")
	fs.Int64Var(&benchSeed, "seed", benchSeed, "random `seed`")
	fs.BoolVar(&benchKeep, "keep", benchKeep, "keep the bench table")

	lstoreCmd.AddCommand(benchCmd)
}

func newTable(w io.Writer, hdr []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader(hdr)
	return tw
}

type phase struct {
	name string
	op   func(q *query.Query, rnd *rand.Rand, key int64) error
}

var phases = []phase{
	{"insert",
		func(q *query.Query, rnd *rand.Rand, key int64) error {
			vals := []int64{key}
			for col := 1; col < benchColumns; col++ {
				vals = append(vals, rnd.Int63n(1000))
			}
			return q.Insert(vals...)
		}},
	{"update",
		func(q *query.Query, rnd *rand.Rand, key int64) error {
			columns := make([]*int64, benchColumns)
			columns[1+rnd.Intn(benchColumns-1)] = query.Val(rnd.Int63n(1000))
			return q.Update(key, columns...)
		}},
	{"increment",
		func(q *query.Query, rnd *rand.Rand, key int64) error {
			return q.Increment(key, 1+rnd.Intn(benchColumns-1))
		}},
	{"select",
		func(q *query.Query, rnd *rand.Rand, key int64) error {
			recs, err := q.Select(key, 0, []int{1, 1, 1, 1, 1})
			if err == nil && len(recs) != 1 {
				err = fmt.Errorf("bench: select %d: got %d records", key, len(recs))
			}
			return err
		}},
	{"version",
		func(q *query.Query, rnd *rand.Rand, key int64) error {
			_, err := q.SelectVersion(key, 0, []int{1, 1, 1, 1, 1}, -1-rnd.Intn(2))
			return err
		}},
	{"sum",
		func(q *query.Query, rnd *rand.Rand, key int64) error {
			_, err := q.Sum(key, key+100, 1+rnd.Intn(benchColumns-1))
			return err
		}},
}

// runPhase runs op once for each key; every worker owns the keys equal to its number
// modulo the number of workers.
func runPhase(ctx context.Context, q *query.Query, op func(q *query.Query, rnd *rand.Rand,
	key int64) error) error {

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < benchWorkers; w++ {
		w := w
		g.Go(func() error {
			rnd := rand.New(rand.NewSource(benchSeed + int64(w)))
			for key := int64(w); key < int64(benchRecords); key += int64(benchWorkers) {
				if key%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				err := op(q, rnd, key)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func benchRun(cmd *cobra.Command, args []string) (err error) {
	if benchRecords <= 0 || benchWorkers <= 0 {
		return fmt.Errorf("bench: records and workers must be positive")
	}

	d, err := db.Open(cfg, log.StandardLogger())
	if err != nil {
		return err
	}
	defer func() {
		cerr := d.Close()
		if err == nil {
			err = cerr
		}
	}()

	err = d.DropTable(benchTable)
	if err != nil && !errors.Is(err, db.ErrNoTable) {
		return err
	}
	tbl, err := d.CreateTable(benchTable, benchColumns, 0)
	if err != nil {
		return err
	}
	q := query.New(tbl)

	tw := newTable(cmd.OutOrStdout(), []string{"phase", "operations", "elapsed", "ops/sec"})
	report := func(name string, ops int, elapsed time.Duration) {
		tw.Append([]string{
			name,
			strconv.Itoa(ops),
			elapsed.Round(time.Microsecond).String(),
			strconv.FormatFloat(float64(ops)/elapsed.Seconds(), 'f', 0, 64),
		})
	}

	ctx := context.Background()
	for _, ph := range phases {
		start := time.Now()
		err = runPhase(ctx, q, ph.op)
		if err != nil {
			return fmt.Errorf("bench: %s: %s", ph.name, err)
		}
		report(ph.name, benchRecords, time.Since(start))
	}

	start := time.Now()
	res, err := merge.Merge(tbl)
	if err != nil {
		return err
	}
	report("merge", int(res.Merged), time.Since(start))

	start = time.Now()
	err = runPhase(ctx, q, phases[3].op)
	if err != nil {
		return fmt.Errorf("bench: select after merge: %s", err)
	}
	report("select merged", benchRecords, time.Since(start))
	tw.Render()

	if !benchKeep {
		return d.DropTable(benchTable)
	}
	return nil
}
