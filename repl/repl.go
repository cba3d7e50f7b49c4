package repl

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/gracexichen/L-Store-Database/db"
	"github.com/gracexichen/L-Store-Database/merge"
	"github.com/gracexichen/L-Store-Database/query"
	"github.com/gracexichen/L-Store-Database/table"
)

var (
	ErrUsage = errors.New("repl: usage")
	errQuit  = errors.New("quit")
)

// LineReader returns one command per line; io.EOF ends the session.
type LineReader interface {
	ReadLine() (string, error)
}

type command struct {
	name  string
	usage string
	fn    func(r *Repl, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"create", "create <table> <columns> <key>", (*Repl).create},
		{"drop", "drop <table>", (*Repl).drop},
		{"tables", "tables", (*Repl).tables},
		{"insert", "insert <table> <value> ...", (*Repl).insert},
		{"select", "select <table> <value> [<column>]", (*Repl).selectVersion},
		{"version", "version <table> <value> <relative> [<column>]", (*Repl).selectVersion},
		{"update", "update <table> <key> <value|_> ...", (*Repl).update},
		{"delete", "delete <table> <key>", (*Repl).delete},
		{"sum", "sum <table> <start> <end> <column>", (*Repl).sum},
		{"sumv", "sumv <table> <start> <end> <column> <relative>", (*Repl).sum},
		{"inc", "inc <table> <key> <column>", (*Repl).increment},
		{"index", "index <table> <column>", (*Repl).index},
		{"unindex", "unindex <table> <column>", (*Repl).index},
		{"merge", "merge <table>", (*Repl).merge},
		{"stats", "stats [<table>]", (*Repl).stats},
		{"checkpoint", "checkpoint", (*Repl).checkpoint},
		{"help", "help", (*Repl).help},
		{"quit", "quit", func(r *Repl, args []string) error { return errQuit }},
	}
}

// Repl runs record commands against a database and writes the results to w.
type Repl struct {
	db *db.Database
	w  io.Writer
}

func New(d *db.Database, w io.Writer) *Repl {
	return &Repl{
		db: d,
		w:  w,
	}
}

// Run executes commands from lr until it returns io.EOF or a quit command. Errors are
// reported to the output and do not end the session.
func (r *Repl) Run(lr LineReader) error {
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		err = r.Exec(line)
		if err == errQuit {
			return nil
		} else if err != nil {
			fmt.Fprintln(r.w, err)
		}
	}
}

// Exec executes one command; blank lines and lines starting with # are ignored.
func (r *Repl) Exec(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 || strings.HasPrefix(args[0], "#") {
		return nil
	}

	for _, cmd := range commands {
		if cmd.name == strings.ToLower(args[0]) {
			err := cmd.fn(r, args)
			if errors.Is(err, ErrUsage) {
				return fmt.Errorf("%w: %s", ErrUsage, cmd.usage)
			}
			return err
		}
	}
	return fmt.Errorf("repl: unknown command: %s; try help", args[0])
}

func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("repl: expected an integer: %s", s)
	}
	return v, nil
}

func parseInts(args []string) ([]int64, error) {
	vals := make([]int64, len(args))
	for adx, arg := range args {
		v, err := parseInt(arg)
		if err != nil {
			return nil, err
		}
		vals[adx] = v
	}
	return vals, nil
}

func (r *Repl) query(name string) (*query.Query, error) {
	tbl, err := r.db.GetTable(name)
	if err != nil {
		return nil, err
	}
	return query.New(tbl), nil
}

func (r *Repl) rowsAffected(cnt int, what string) {
	if cnt == 1 {
		fmt.Fprintf(r.w, "1 record %s\n", what)
	} else {
		fmt.Fprintf(r.w, "%d records %s\n", cnt, what)
	}
}

func (r *Repl) create(args []string) error {
	if len(args) != 4 {
		return ErrUsage
	}
	vals, err := parseInts(args[2:])
	if err != nil {
		return err
	}
	_, err = r.db.CreateTable(args[1], int(vals[0]), int(vals[1]))
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "table %s created\n", args[1])
	return nil
}

func (r *Repl) drop(args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	err := r.db.DropTable(args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "table %s dropped\n", args[1])
	return nil
}

func (r *Repl) tables(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}

	tw := tablewriter.NewWriter(r.w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"table", "columns", "key", "records"})
	for _, name := range r.db.Tables() {
		tbl, err := r.db.GetTable(name)
		if err != nil {
			continue
		}
		tw.Append([]string{
			name,
			strconv.Itoa(tbl.NumColumns()),
			strconv.Itoa(tbl.Key()),
			strconv.FormatInt(tbl.NumRecords(), 10),
		})
	}
	tw.Render()
	fmt.Fprintf(r.w, "(%d rows)\n", tw.NumLines())
	return nil
}

func (r *Repl) insert(args []string) error {
	if len(args) < 3 {
		return ErrUsage
	}
	q, err := r.query(args[1])
	if err != nil {
		return err
	}
	vals, err := parseInts(args[2:])
	if err != nil {
		return err
	}
	err = q.Insert(vals...)
	if err != nil {
		return err
	}
	r.rowsAffected(1, "inserted")
	return nil
}

func (r *Repl) printRecords(tbl *table.Table, recs []table.Record) {
	tw := tablewriter.NewWriter(r.w)
	tw.SetAutoFormatHeaders(false)

	hdr := []string{"rid"}
	for col := 0; col < tbl.NumColumns(); col++ {
		hdr = append(hdr, fmt.Sprintf("c%d", col))
	}
	tw.SetHeader(hdr)

	for _, rec := range recs {
		row := []string{strconv.FormatInt(rec.RID, 10)}
		for _, v := range rec.Columns {
			row = append(row, strconv.FormatInt(v, 10))
		}
		tw.Append(row)
	}
	tw.Render()
	fmt.Fprintf(r.w, "(%d rows)\n", tw.NumLines())
}

func (r *Repl) selectVersion(args []string) error {
	if len(args) < 3 {
		return ErrUsage
	}

	var relative int64
	rest := args[3:]
	if args[0] == "version" {
		if len(args) < 4 {
			return ErrUsage
		}
		v, err := parseInt(args[3])
		if err != nil {
			return err
		}
		relative = v
		rest = args[4:]
	}
	if len(rest) > 1 {
		return ErrUsage
	}

	q, err := r.query(args[1])
	if err != nil {
		return err
	}
	key, err := parseInt(args[2])
	if err != nil {
		return err
	}
	col := int64(q.Table().Key())
	if len(rest) == 1 {
		col, err = parseInt(rest[0])
		if err != nil {
			return err
		}
	}

	projection := make([]int, q.Table().NumColumns())
	for pdx := range projection {
		projection[pdx] = 1
	}
	recs, err := q.SelectVersion(key, int(col), projection, int(relative))
	if err != nil {
		return err
	}
	r.printRecords(q.Table(), recs)
	return nil
}

func (r *Repl) update(args []string) error {
	if len(args) < 4 {
		return ErrUsage
	}
	q, err := r.query(args[1])
	if err != nil {
		return err
	}
	key, err := parseInt(args[2])
	if err != nil {
		return err
	}

	var columns []*int64
	for _, arg := range args[3:] {
		if arg == "_" {
			columns = append(columns, nil)
			continue
		}
		v, err := parseInt(arg)
		if err != nil {
			return err
		}
		columns = append(columns, query.Val(v))
	}
	err = q.Update(key, columns...)
	if err != nil {
		return err
	}
	r.rowsAffected(1, "updated")
	return nil
}

func (r *Repl) delete(args []string) error {
	if len(args) != 3 {
		return ErrUsage
	}
	q, err := r.query(args[1])
	if err != nil {
		return err
	}
	key, err := parseInt(args[2])
	if err != nil {
		return err
	}
	err = q.Delete(key)
	if err != nil {
		return err
	}
	r.rowsAffected(1, "deleted")
	return nil
}

func (r *Repl) sum(args []string) error {
	n := 5
	if args[0] == "sumv" {
		n = 6
	}
	if len(args) != n {
		return ErrUsage
	}
	q, err := r.query(args[1])
	if err != nil {
		return err
	}
	vals, err := parseInts(args[2:])
	if err != nil {
		return err
	}
	var relative int64
	if n == 6 {
		relative = vals[3]
	}

	total, err := q.SumVersion(vals[0], vals[1], int(vals[2]), int(relative))
	if err != nil {
		return err
	}
	fmt.Fprintln(r.w, total)
	return nil
}

func (r *Repl) increment(args []string) error {
	if len(args) != 4 {
		return ErrUsage
	}
	q, err := r.query(args[1])
	if err != nil {
		return err
	}
	vals, err := parseInts(args[2:])
	if err != nil {
		return err
	}
	err = q.Increment(vals[0], int(vals[1]))
	if err != nil {
		return err
	}
	r.rowsAffected(1, "updated")
	return nil
}

func (r *Repl) index(args []string) error {
	if len(args) != 3 {
		return ErrUsage
	}
	q, err := r.query(args[1])
	if err != nil {
		return err
	}
	col, err := parseInt(args[2])
	if err != nil {
		return err
	}
	if args[0] == "index" {
		err = q.CreateIndex(int(col))
	} else {
		err = q.DropIndex(int(col))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "%s %s %d\n", args[0], args[1], col)
	return nil
}

func (r *Repl) merge(args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	tbl, err := r.db.GetTable(args[1])
	if err != nil {
		return err
	}
	res, err := merge.Merge(tbl)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "merged %d tail records into %d records; tps %d\n", res.Scanned,
		res.Merged, res.Horizon)
	return nil
}

func (r *Repl) stats(args []string) error {
	if len(args) > 2 {
		return ErrUsage
	}

	tw := tablewriter.NewWriter(r.w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"name", "value"})
	add := func(name string, v interface{}) {
		tw.Append([]string{name, fmt.Sprintf("%v", v)})
	}

	if len(args) == 2 {
		tbl, err := r.db.GetTable(args[1])
		if err != nil {
			return err
		}
		st := tbl.Stats()
		add("records", st.Records)
		add("tail records", st.TailRecords)
		add("tps", st.TPS)
		add("base page-sets", st.BasePageSets)
		add("tail page-sets", st.TailPageSets)
		add("in flight", st.InFlight)
		add("aborted", st.Aborted)
	} else {
		st := r.db.BufferPool().Stats()
		add("capacity", st.Capacity)
		add("frames", st.Frames)
		add("pinned", st.Pinned)
		add("dirty", st.Dirty)
		add("hits", st.Hits)
		add("misses", st.Misses)
		add("evictions", st.Evictions)
		add("writes", st.Writes)
	}
	tw.Render()
	return nil
}

func (r *Repl) checkpoint(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	err := r.db.Checkpoint()
	if err != nil {
		return err
	}
	fmt.Fprintln(r.w, "checkpoint done")
	return nil
}

func (r *Repl) help(args []string) error {
	for _, cmd := range commands {
		fmt.Fprintln(r.w, cmd.usage)
	}
	return nil
}
