package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/celeratec/cipp-console/internal/config"
	"github.com/celeratec/cipp-console/internal/consolectl"
	"github.com/celeratec/cipp-console/internal/remediation"
	"github.com/celeratec/cipp-console/internal/storage"
)

var (
	configPath = flag.String("config", defaultConfigPath(), "CLI config file")
	consoleURL = flag.String("console-url", "", "Console API URL (or set CONSOLE_URL env var)")
	authToken  = flag.String("auth-token", "", "Authentication token (or set CONSOLE_AUTH_TOKEN env var)")
	format     = flag.String("format", "table", "Output format: table or json")
)

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "cipp-console", "consolectl.json")
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 || args[0] == "help" {
		printUsage()
		if len(args) == 0 {
			os.Exit(1)
		}
		return
	}

	if *authToken != "" {
		os.Setenv(config.EnvConsoleAuthToken, *authToken)
	}
	if *consoleURL != "" {
		os.Setenv(config.EnvConsoleURL, *consoleURL)
	}
	cfg, err := config.LoadCtlConfig(*configPath)
	if err != nil {
		fail(err)
	}

	client := consolectl.NewHTTPClient(strings.TrimRight(cfg.ConsoleURL, "/"), cfg.AuthToken, cfg.Actor)
	prompter := consolectl.NewPrompter(os.Stdin, os.Stdout)

	switch args[0] {
	case "rules":
		handleRules(client)
	case "findings":
		handleFindings(client, args[1:])
	case "save":
		handleSave(client, prompter, args[1:])
	case "run":
		handleRun(client, prompter, args[1:])
	case "session":
		handleSession(client, args[1:])
	case "audit":
		handleAudit(client, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func handleRules(client *consolectl.HTTPClient) {
	catalogs, err := consolectl.ListRules(client)
	if err != nil {
		fail(err)
	}
	if *format == "json" {
		printJSON(catalogs)
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AREA\tVERSION\tSEVERITY\tRULE\tTITLE")
	for _, c := range catalogs {
		for _, r := range c.Rules {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Area, c.Version, r.Severity, r.ID, r.Title)
		}
	}
	w.Flush()
}

func handleFindings(client *consolectl.HTTPClient, args []string) {
	if len(args) < 2 {
		fail(fmt.Errorf("usage: consolectl findings <tenant> <area>"))
	}
	out, err := consolectl.GetFindings(client, args[0], args[1])
	if err != nil {
		fail(err)
	}
	if *format == "json" {
		printJSON(out)
		return
	}
	fmt.Printf("Tenant: %s  Area: %s  Catalog: %s\n", out.Tenant, out.Area, out.CatalogVersion)
	fmt.Printf("Errors: %d  Warnings: %d  Info: %d\n\n", out.Counts.Error, out.Counts.Warning, out.Counts.Info)
	if len(out.Findings) == 0 {
		fmt.Println("No findings.")
		return
	}
	consolectl.PrintFindings(os.Stdout, out.Findings)
}

// handleSave reads proposed settings from a file ("-" for stdin) and runs the
// interactive gated save.
func handleSave(client *consolectl.HTTPClient, prompter *consolectl.Prompter, args []string) {
	if len(args) < 3 {
		fail(fmt.Errorf("usage: consolectl save <tenant> <area> <settings.json|->"))
	}
	settings, err := readInput(args[2])
	if err != nil {
		fail(err)
	}
	if !json.Valid(settings) {
		fail(fmt.Errorf("%s is not valid JSON", args[2]))
	}

	result, err := consolectl.GatedSave(client, prompter, args[0], args[1], settings)
	if err != nil {
		fail(err)
	}
	switch {
	case result.Saved && result.Confirmed:
		fmt.Println("Settings saved (risks confirmed).")
	case result.Saved:
		fmt.Println("Settings saved.")
	default:
		fmt.Println("Save cancelled; nothing was written.")
		os.Exit(2)
	}
}

// handleRun performs an action. Parameters are key=value pairs or a JSON
// object passed with --params.
func handleRun(client *consolectl.HTTPClient, prompter *consolectl.Prompter, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	paramsFile := fs.String("params", "", "JSON file with action parameters (- for stdin)")
	if len(args) < 2 {
		fail(fmt.Errorf("usage: consolectl run <tenant> <action> [--params file] [key=value ...]"))
	}
	tenant, action := args[0], args[1]
	fs.Parse(args[2:])

	params := map[string]interface{}{}
	if *paramsFile != "" {
		data, err := readInput(*paramsFile)
		if err != nil {
			fail(err)
		}
		if err := json.Unmarshal(data, &params); err != nil {
			fail(fmt.Errorf("parse params: %w", err))
		}
	}
	for _, kv := range fs.Args() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			fail(fmt.Errorf("parameter %q must be key=value", kv))
		}
		params[key] = value
	}

	res, err := consolectl.RunAction(client, prompter, tenant, action, params)
	if err != nil {
		fail(err)
	}
	if *format == "json" {
		printJSON(res)
	} else if res.Success && res.Session == nil {
		fmt.Printf("%s succeeded.\n", action)
	}
	if res.Session != nil && !res.Success {
		fmt.Printf("Session %s left in state %s.\n", res.Session.ID, res.Session.State)
		os.Exit(2)
	}
}

func handleSession(client *consolectl.HTTPClient, args []string) {
	if len(args) < 2 {
		fail(fmt.Errorf("usage: consolectl session get|reset <id>"))
	}
	switch args[0] {
	case "get":
		view, err := consolectl.GetSession(client, args[1])
		if err != nil {
			fail(err)
		}
		if *format == "json" {
			printJSON(view)
		} else {
			printSession(view)
		}
	case "reset":
		if err := consolectl.ResetSession(client, args[1]); err != nil {
			fail(err)
		}
		fmt.Printf("Session %s reset.\n", args[1])
	default:
		fail(fmt.Errorf("unknown session subcommand %q", args[0]))
	}
}

func handleAudit(client *consolectl.HTTPClient, args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	tenant := fs.String("tenant", "", "filter by tenant")
	action := fs.String("action", "", "filter by action (settings.save, remediation.fix, ...)")
	session := fs.String("session", "", "filter by session id")
	since := fs.Duration("since", 0, "only records newer than this (e.g. 24h)")
	limit := fs.Int("limit", 50, "maximum records")
	fs.Parse(args)

	q := consolectl.AuditQuery{Tenant: *tenant, Action: *action, SessionID: *session, Limit: *limit}
	if *since > 0 {
		q.Since = time.Now().Add(-*since)
	}
	records, err := consolectl.QueryAudit(client, q)
	if err != nil {
		fail(err)
	}
	if *format == "json" {
		printJSON(records)
		return
	}
	printAudit(records)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func printSession(v *remediation.View) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", v.ID)
	fmt.Fprintf(w, "Tenant:\t%s\n", v.Tenant)
	fmt.Fprintf(w, "Operation:\t%s\n", v.Operation)
	fmt.Fprintf(w, "State:\t%s\n", v.State)
	fmt.Fprintf(w, "Fix attempted:\t%v\n", v.FixAttempted)
	fmt.Fprintf(w, "Updated:\t%s\n", v.UpdatedAt.Format(time.RFC3339))
	if v.RawError != "" {
		fmt.Fprintf(w, "Error:\t%s\n", v.RawError)
	}
	w.Flush()
	if len(v.Findings) > 0 {
		fmt.Println()
		consolectl.PrintFindings(os.Stdout, v.Findings)
	}
}

func printAudit(records []storage.AuditRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTOR\tTENANT\tACTION\tTARGET\tRESULT\tDURATION")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\n",
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			r.Actor, r.Tenant, r.Action, r.Target, r.Result, r.DurationMs,
		)
	}
	w.Flush()
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fail(err)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `consolectl - drive the tenant configuration console

Usage:
  consolectl [flags] <command> [args]

Commands:
  rules                                 List rule catalogs
  findings <tenant> <area>              Evaluate a tenant's current settings
  save <tenant> <area> <file|->         Save settings, confirming any risks
  run <tenant> <action> [key=value ...] Perform an action; diagnose and fix on failure
  session get <id>                      Show a remediation session
  session reset <id>                    Discard a remediation session
  audit [--tenant t] [--action a]       Show the audit trail

Flags:
`)
	flag.PrintDefaults()
}
