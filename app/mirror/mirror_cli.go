package mirrorcli

import (
	"fmt"
	"os"

	"github.com/serum-errors/go-serum"
	"github.com/urfave/cli/v2"

	appbase "github.com/icatools/icat/app/base"
	"github.com/icatools/icat/app/base/util"
	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/config"
	"github.com/icatools/icat/pkg/mirroring"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands, mirrorCmdDef)
}

var mirrorCmdDef = &cli.Command{
	Name:  "mirror",
	Usage: "Subcommands that send dump files to configured mirrors",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "name",
			Aliases: []string{"n"},
			Usage:   "Name of the mirror to operate on",
			Value:   "default",
		},
	},
	Subcommands: []*cli.Command{
		{
			Name:      "push",
			Usage:     "Push dump files to the named mirror",
			ArgsUsage: "[dump file]...",
			Action: util.ChainCmdMiddleware(cmdMirrorPush,
				util.CmdMiddlewareLogging,
				util.CmdMiddlewareTracingConfig,
				util.CmdMiddlewareTracingSpan,
			),
		},
		{
			Name:  "ls",
			Usage: "List the configured mirrors",
			Action: util.ChainCmdMiddleware(cmdMirrorLs,
				util.CmdMiddlewareLogging,
				util.CmdMiddlewareTracingConfig,
				util.CmdMiddlewareTracingSpan,
			),
		},
	},
}

// Errors:
//
//    - icat-error-invalid-argument -- when no dump files are named
//    - icat-error-serialization -- when the mirror configuration does not
//        parse, or the process environment cannot be snapshotted
//    - icat-error-datatoonew -- when the mirror configuration is from a newer tool
//    - icat-error-invalid -- when no mirror with that name is configured
//    - icat-error-io -- when the configuration or a dump file cannot be read,
//        the destination cannot be reached, or a transfer fails
func cmdMirrorPush(c *cli.Context) error {
	if !c.Args().Present() {
		return serum.Errorf(icatapi.ECodeArgument, "nothing to push: name at least one dump file")
	}
	state, err := config.NewState()
	if err != nil {
		return err
	}
	cfg, err := mirroring.LoadConfig(os.DirFS("/"), config.MirrorConfigPath(state))
	if err != nil {
		return err
	}
	return mirroring.PushDumps(c.Context, cfg, icatapi.MirrorName(c.String("name")), c.Args().Slice())
}

// Errors:
//
//    - icat-error-serialization -- when the mirror configuration does not
//        parse, or the process environment cannot be snapshotted
//    - icat-error-datatoonew -- when the mirror configuration is from a newer tool
//    - icat-error-io -- when the configuration exists but cannot be read
func cmdMirrorLs(c *cli.Context) error {
	state, err := config.NewState()
	if err != nil {
		return err
	}
	cfgPath := config.MirrorConfigPath(state)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if !c.Bool("quiet") {
			fmt.Fprintf(c.App.Writer, "no mirrors configured (create %s to add some)\n", cfgPath)
		}
		return nil
	}
	cfg, err := mirroring.LoadConfig(os.DirFS("/"), cfgPath)
	if err != nil {
		return err
	}
	for _, name := range cfg.Keys {
		fmt.Fprintf(c.App.Writer, "%-16s %s\n", name, describeTarget(cfg.Values[name].Push))
	}
	return nil
}

func describeTarget(t icatapi.PushTarget) string {
	switch {
	case t.S3 != nil:
		loc := t.S3.Endpoint + "/" + t.S3.Bucket
		if t.S3.Prefix != nil {
			loc += "/" + *t.S3.Prefix
		}
		return "s3 " + loc
	case t.Mock != nil:
		return "mock"
	}
	return "?"
}
