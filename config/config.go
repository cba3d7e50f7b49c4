package config

import (
	"fmt"
	"io/ioutil"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/spf13/pflag"

	"github.com/gracexichen/L-Store-Database/bufferpool"
	"github.com/gracexichen/L-Store-Database/page"
	"github.com/gracexichen/L-Store-Database/table"
)

var (
	stores = []string{bufferpool.FileStore, bufferpool.BBoltStore, bufferpool.BadgerStore,
		bufferpool.PebbleStore, bufferpool.MemoryStore}
	logLevels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}
)

type setBy int

const (
	byDefault setBy = iota
	byFlag
	byConfig
)

func (by setBy) String() string {
	switch by {
	case byDefault:
		return "default"
	case byFlag:
		return "flag"
	case byConfig:
		return "config"
	}
	return fmt.Sprintf("setBy(%d)", int(by))
}

type variable struct {
	name  string
	val   Value
	usage string
	by    setBy
}

// Config holds the settings of a database. A variable set by a flag is not changed by a
// config file, and a config file only sets variables it names.
type Config struct {
	DataDir        string
	Store          string
	PoolSize       int
	PageCapacity   int
	MergeThreshold int64
	MergeInterval  time.Duration
	LogFile        string
	LogLevel       string

	vars map[string]*variable
}

func (cfg *Config) define(val Value, name, usage string) {
	if _, ok := cfg.vars[name]; ok {
		panic(fmt.Sprintf("config: variable redefined: %s", name))
	}
	cfg.vars[name] = &variable{
		name:  name,
		val:   val,
		usage: usage,
	}
}

func Default() *Config {
	cfg := &Config{
		DataDir:        "testdata",
		Store:          bufferpool.FileStore,
		PoolSize:       bufferpool.DefaultCapacity,
		PageCapacity:   page.DefaultCapacity,
		MergeThreshold: table.DefaultMergeThreshold,
		MergeInterval:  10 * time.Second,
		LogFile:        "lstore.log",
		LogLevel:       "info",
		vars:           map[string]*variable{},
	}

	cfg.define((*stringValue)(&cfg.DataDir), "data", "`directory` containing tables")
	cfg.define(choiceValue{&cfg.Store, stores}, "store",
		"page store: "+strings.Join(stores, ", "))
	cfg.define((*intValue)(&cfg.PoolSize), "pool-size",
		"`number` of pages held by the buffer pool")
	cfg.define((*intValue)(&cfg.PageCapacity), "page-capacity",
		"`number` of records in a page for new tables")
	cfg.define((*int64Value)(&cfg.MergeThreshold), "merge-threshold",
		"`number` of tail records which trigger a merge; negative to disable")
	cfg.define((*durationValue)(&cfg.MergeInterval), "merge-interval",
		"`interval` between background merges; 0 to disable")
	cfg.define((*stringValue)(&cfg.LogFile), "log-file", "`file` to use for logging")
	cfg.define(choiceValue{&cfg.LogLevel, logLevels}, "log-level",
		"log level: "+strings.Join(logLevels, ", "))
	return cfg
}

// Flags adds a flag to fs for each variable.
func (cfg *Config) Flags(fs *pflag.FlagSet) {
	for _, name := range cfg.names() {
		v := cfg.vars[name]
		fs.Var(v.val, v.name, v.usage)
	}
}

// Parsed records which variables were set by flags in fs; it must be called after fs is
// parsed and before Load.
func (cfg *Config) Parsed(fs *pflag.FlagSet) {
	fs.Visit(
		func(flg *pflag.Flag) {
			if v, ok := cfg.vars[flg.Name]; ok {
				v.by = byFlag
			}
		})
}

// Load reads an hcl config file. It is an error for the file to name an unknown variable.
func (cfg *Config) Load(filename string) error {
	b, err := ioutil.ReadFile(filename)
	if err != nil {
		return err
	}
	return cfg.load(b)
}

func (cfg *Config) load(b []byte) error {
	var m map[string]interface{}

	err := hcl.Decode(&m, string(b))
	if err != nil {
		return err
	}
	for name, val := range m {
		v, ok := cfg.vars[name]
		if !ok {
			return fmt.Errorf("%s is not a config variable", name)
		}

		if v.by == byDefault {
			err := v.val.SetValue(val)
			if err != nil {
				return fmt.Errorf("%s: %s", v.name, err)
			}
			v.by = byConfig
		}
	}

	return cfg.Validate()
}

func (cfg *Config) Validate() error {
	if cfg.DataDir == "" {
		return fmt.Errorf("config: data: missing directory")
	}
	if cfg.PoolSize <= 0 {
		return fmt.Errorf("config: pool-size: must be positive: %d", cfg.PoolSize)
	}
	if cfg.PageCapacity <= 0 {
		return fmt.Errorf("config: page-capacity: must be positive: %d", cfg.PageCapacity)
	}
	if cfg.MergeInterval < 0 {
		return fmt.Errorf("config: merge-interval: must not be negative: %s", cfg.MergeInterval)
	}
	return nil
}

func (cfg *Config) names() []string {
	names := make([]string, 0, len(cfg.vars))
	for name := range cfg.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Variable struct {
	Name  string
	Value string
	By    string
}

// Variables returns every variable, its value, and what set it, ordered by name.
func (cfg *Config) Variables() []Variable {
	var vars []Variable
	for _, name := range cfg.names() {
		v := cfg.vars[name]
		vars = append(vars,
			Variable{
				Name:  v.name,
				Value: v.val.String(),
				By:    v.by.String(),
			})
	}
	return vars
}
