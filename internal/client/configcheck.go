package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/zrepl/yaml-config"

	"github.com/zfstools/zfstools/internal/cli"
	"github.com/zfstools/zfstools/internal/config"
	"github.com/zfstools/zfstools/internal/logger"
	"github.com/zfstools/zfstools/internal/logging"
	"github.com/zfstools/zfstools/internal/monitoring"
)

var configcheckArgs struct {
	format string
	what   string
}

var ConfigcheckCmd = &cli.Subcommand{
	Use:   "configcheck",
	Short: "check if config can be parsed without errors",
	SetupFlags: func(f *pflag.FlagSet) {
		f.StringVar(&configcheckArgs.format, "format", "", "dump parsed config object [pretty|yaml|json]")
		f.StringVar(&configcheckArgs.what, "what", "all", "what to print [all|config|logging|monitoring]")
	},
	Run: func(ctx context.Context, subcommand *cli.Subcommand, args []string) error {
		return configcheck(os.Stdout, os.Stderr, subcommand.Config(), configcheckArgs.format, configcheckArgs.what)
	},
}

func configcheck(stdout, stderr io.Writer, c *config.Config, format, what string) error {
	formatMap := map[string]func(interface{}){
		"": func(i interface{}) {},
		"pretty": func(i interface{}) {
			if _, err := pretty.Fprintf(stdout, "%# v\n", i); err != nil {
				panic(err)
			}
		},
		"json": func(i interface{}) {
			if err := json.NewEncoder(stdout).Encode(i); err != nil {
				panic(err)
			}
		},
		"yaml": func(i interface{}) {
			if err := yaml.NewEncoder(stdout).Encode(i); err != nil {
				panic(err)
			}
		},
	}

	formatter, ok := formatMap[format]
	if !ok {
		return fmt.Errorf("unsupported --format %q", format)
	}

	var hadErr bool

	// further: try to build logging outlets
	outlets, err := logging.OutletsFromConfig(*c.Global.Logging)
	if err != nil {
		err := errors.Wrap(err, "cannot build logging from config")
		if what == "logging" {
			return err
		} else {
			fmt.Fprintf(stderr, "%s\n", err)
			outlets = nil
			hadErr = true
		}
	}

	// further: try to build monitoring exporters
	exporters, err := monitoring.FromConfig(c.Global.Monitoring)
	if err != nil {
		err := errors.Wrap(err, "cannot build monitoring from config")
		if what == "monitoring" {
			return err
		} else {
			fmt.Fprintf(stderr, "%s\n", err)
			exporters = nil
			hadErr = true
		}
	}

	whatMap := map[string]func(){
		"all": func() {
			o := struct {
				Config     *config.Config
				Logging    *logger.Outlets
				Monitoring []monitoring.Exporter
			}{
				c,
				outlets,
				exporters,
			}
			formatter(o)
		},
		"config": func() {
			formatter(c)
		},
		"logging": func() {
			formatter(outlets)
		},
		"monitoring": func() {
			formatter(exporters)
		},
	}

	wf, ok := whatMap[what]
	if !ok {
		return fmt.Errorf("unsupported --what %q", what)
	}
	wf()

	if hadErr {
		return fmt.Errorf("config parsing failed")
	} else {
		return nil
	}
}
