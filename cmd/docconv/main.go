package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/you-humble/docconv/internal/app"
	"github.com/you-humble/docconv/internal/converter"
	"github.com/you-humble/docconv/internal/infra/config"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	cmd := &cli.Command{
		Name:  "docconv",
		Usage: "convert documents between PDF and Word formats",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to the YAML configuration file",
				Value:   "configs/local.yaml",
				Sources: cli.EnvVars("CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "optional .env file with secrets and overrides",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP conversion service",
				Action: serve,
			},
			{
				Name:   "probe",
				Usage:  "check that the converter tools are installed and exit",
				Action: probe,
			},
		},
		Action: serve,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	a := app.New(ctx, app.Options{
		ConfigPath: cmd.String("config"),
		EnvFile:    cmd.String("env-file"),
	})
	return a.Run(ctx)
}

func probe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"), cmd.String("env-file"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	inv := converter.New(converter.Config{
		InterpreterPath: cfg.Converter.InterpreterPath,
		ScriptPath:      cfg.Converter.ScriptPath,
		OfficePath:      cfg.Converter.OfficePath,
	}, converter.Options{})

	v, err := inv.Probe(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.Root().Writer, "interpreter: %s\noffice: %s\n", v.Interpreter, v.Office)
	return nil
}
