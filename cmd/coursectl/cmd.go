package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/p-n-ai/pai-learn/internal/course"
	"github.com/p-n-ai/pai-learn/internal/grading"
	"github.com/p-n-ai/pai-learn/internal/platform/config"
	"github.com/p-n-ai/pai-learn/internal/platform/database"
)

var (
	errHelp    = errors.New("help provided")
	errInvalid = errors.New("invalid course documents")

	migrateTimeout = 30 * time.Second
)

type commandLine struct {
	stdout io.Writer
	stderr io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.stderr, "Usage:")
	fmt.Fprintln(cli.stderr, "  validate FILE...                          - check course documents")
	fmt.Fprintln(cli.stderr, "  shuffle -in FILE [-out FILE] [-seed N]    - assign shuffled keys to compare questions")
	fmt.Fprintln(cli.stderr, "  migrate [-env FILE]                       - apply the database schema")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	validateCmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	validateCmd.SetOutput(cli.stderr)

	shuffleCmd := flag.NewFlagSet("shuffle", flag.ContinueOnError)
	shuffleCmd.SetOutput(cli.stderr)
	shuffleIn := shuffleCmd.String("in", "", "Course document to read (.yaml, .yml or .json).")
	shuffleOut := shuffleCmd.String("out", "", "Where to write the prepared YAML document. Defaults to stdout.")
	shuffleSeed := shuffleCmd.Uint64("seed", 0, "Random seed. Zero picks a random one.")

	migrateCmd := flag.NewFlagSet("migrate", flag.ContinueOnError)
	migrateCmd.SetOutput(cli.stderr)
	migrateEnv := migrateCmd.String("env", "", "Optional env file with LEARN_DATABASE_URL.")

	switch args[1] {
	case "validate":
		if err := validateCmd.Parse(args[2:]); err != nil {
			return err
		}
		if validateCmd.NArg() == 0 {
			validateCmd.Usage()
			return errHelp
		}
		return cli.validate(validateCmd.Args())
	case "shuffle":
		if err := shuffleCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *shuffleIn == "" {
			shuffleCmd.Usage()
			return errHelp
		}
		seed := *shuffleSeed
		if seed == 0 {
			seed = rand.Uint64()
		}
		return cli.shuffle(*shuffleIn, *shuffleOut, seed)
	case "migrate":
		if err := migrateCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.migrate(*migrateEnv)
	default:
		cli.printUsage()
		return errHelp
	}
}

func readCourse(path string) (*course.Course, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return course.Decode(path, data)
}

func (cli *commandLine) validate(paths []string) error {
	bad := 0
	for _, path := range paths {
		c, err := readCourse(path)
		if err == nil {
			err = course.Validate(c)
		}
		if err != nil {
			bad++
			fmt.Fprintf(cli.stdout, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(cli.stdout, "ok   %s (%s, %d subchapters)\n", path, c.ID, course.SubchapterCount(c))
	}
	if bad > 0 {
		return fmt.Errorf("%w: %d of %d", errInvalid, bad, len(paths))
	}
	return nil
}

func (cli *commandLine) shuffle(in, out string, seed uint64) error {
	c, err := readCourse(in)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	n, err := grading.PrepareCourse(c, rng)
	if err != nil {
		return err
	}
	if err := course.Validate(c); err != nil {
		return err
	}

	data, err := course.Encode(c)
	if err != nil {
		return fmt.Errorf("encode course: %w", err)
	}

	if out == "" {
		_, err = cli.stdout.Write(data)
	} else {
		err = os.WriteFile(out, data, 0o644)
	}
	if err != nil {
		return fmt.Errorf("write course: %w", err)
	}
	fmt.Fprintf(cli.stderr, "prepared %d compare questions (seed %d)\n", n, seed)
	return nil
}

func (cli *commandLine) migrate(envFile string) error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), migrateTimeout)
	defer cancel()

	db, err := database.New(ctx, cfg.Database.URL, 1, 0)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}
	fmt.Fprintln(cli.stdout, "migrations applied")
	return nil
}
