package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"ledger/internal/attendance"
	"ledger/internal/auth"
	"ledger/internal/config"
	"ledger/internal/outbox"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	cfg        config.App
	out        io.Writer
	exporter   *attendance.Exporter
	agg        *attendance.Aggregator
	recorder   *attendance.Recorder
	openOutbox func() (*outbox.Outbox, error)
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  token -sub USER_ID -role faculty|student  - issue an access token")
	fmt.Fprintln(cli.out, "  export -subject CODE [-o FILE]           - write a subject's attendance report as CSV")
	fmt.Fprintln(cli.out, "  stats -student USER_ID                   - print a student's attendance summary")
	fmt.Fprintln(cli.out, "  replay                                   - push queued offline sessions to the store")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenSub := tokenCmd.String("sub", "", "The user id the token is issued to.")
	tokenRole := tokenCmd.String("role", auth.RoleFaculty, "faculty or student.")

	exportCmd := flag.NewFlagSet("export", flag.ContinueOnError)
	exportSubject := exportCmd.String("subject", "", "Subject code to export.")
	exportOut := exportCmd.String("o", "", "Output file. Defaults to stdout.")

	statsCmd := flag.NewFlagSet("stats", flag.ContinueOnError)
	statsStudent := statsCmd.String("student", "", "Student user id.")

	for _, fs := range []*flag.FlagSet{tokenCmd, exportCmd, statsCmd} {
		fs.SetOutput(cli.out)
	}

	ctx := context.Background()
	switch args[1] {
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenSub == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.issueToken(*tokenSub, *tokenRole)
	case "export":
		if err := exportCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *exportSubject == "" {
			exportCmd.Usage()
			return errHelp
		}
		return cli.export(ctx, *exportSubject, *exportOut)
	case "stats":
		if err := statsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *statsStudent == "" {
			statsCmd.Usage()
			return errHelp
		}
		return cli.stats(ctx, *statsStudent)
	case "replay":
		return cli.replay(ctx)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) issueToken(sub, role string) error {
	pair, err := auth.Issue(sub, role, cli.cfg.JWTIssuer, cli.cfg.JWTSigningKey, cli.cfg.AccessTTL, cli.cfg.RefreshTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, pair.AccessToken)
	return nil
}

// export renders the whole report before touching path, so a failed export
// leaves no file behind.
func (cli *commandLine) export(ctx context.Context, code, path string) error {
	var buf bytes.Buffer
	n, err := cli.exporter.WriteSubjectReport(ctx, code, &buf)
	if err != nil {
		return err
	}
	if path == "" {
		_, err = buf.WriteTo(cli.out)
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "wrote %d sessions to %s\n", n, path)
	return nil
}

func (cli *commandLine) stats(ctx context.Context, studentID string) error {
	stats, err := cli.agg.ForStudent(ctx, studentID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

func (cli *commandLine) replay(ctx context.Context) error {
	box, err := cli.openOutbox()
	if err != nil {
		return err
	}
	defer box.Close()
	rep, err := outbox.NewReplayer(box, cli.recorder).Replay(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "replayed=%d conflicts=%d failed=%d remaining=%d\n", rep.Replayed, rep.Conflicts, rep.Failed, rep.Remaining)
	return nil
}
