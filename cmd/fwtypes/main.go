package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-fwtypes/internal/convert"
	"github.com/loqalabs/loqa-fwtypes/internal/engine"
	"github.com/loqalabs/loqa-fwtypes/internal/profile"
	"github.com/loqalabs/loqa-fwtypes/internal/schema"
)

var version = "0.1.0-dev"

const usage = "expected one of: validate, diff, resolve, convert, version"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = runValidate(os.Args[2:], os.Stdout)
	case "diff":
		err = runDiff(os.Args[2:], os.Stdout)
	case "resolve":
		err = runResolve(os.Args[2:], os.Stdout)
	case "convert":
		err = runConvert(os.Args[2:], os.Stdin, os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	kind := fs.String("kind", "whisper", "Record kind: "+kindList())
	file := fs.String("file", "", "JSON or YAML file holding the record")
	fs.Parse(args)

	m, err := readMapping(*file)
	if err != nil {
		return err
	}
	rec, err := buildRecord(*kind, m)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s valid\n", *kind)
	return writeJSON(out, schema.JSONSafe(rec.ToMap()))
}

func runDiff(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	kind := fs.String("kind", "whisper", "Record kind of both files: "+kindList())
	fs.Parse(args)
	if fs.NArg() != 2 {
		return errors.New("diff expects two files")
	}

	var records [2]schema.Record
	for i := range records {
		m, err := readMapping(fs.Arg(i))
		if err != nil {
			return err
		}
		if records[i], err = buildRecord(*kind, m); err != nil {
			return fmt.Errorf("%s: %w", fs.Arg(i), err)
		}
	}
	return writeJSON(out, schema.JSONSafe(schema.Diff(records[0], records[1])))
}

func runResolve(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	profilesPath := fs.String("profiles", "", "Profiles YAML file (builtin presets when empty)")
	name := fs.String("name", profile.DefaultName, "Profile to resolve")
	overridesPath := fs.String("overrides", "", "JSON or YAML file with option overrides")
	fs.Parse(args)

	set := profile.Builtin()
	if *profilesPath != "" {
		var err error
		if set, err = profile.Load(*profilesPath); err != nil {
			return err
		}
	}
	var overrides map[string]any
	if *overridesPath != "" {
		var err error
		if overrides, err = readMapping(*overridesPath); err != nil {
			return err
		}
	}
	res, err := set.Resolve(*name, overrides)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"profile": res.Profile,
		"batched": res.Request.Batched(),
		"options": schema.JSONSafe(res.Request.ToMap()),
		"drift":   schema.JSONSafe(res.Drift),
	})
}

func runConvert(args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	file := fs.String("file", "-", "Engine output (JSON lines) to convert, - for stdin")
	textOnly := fs.Bool("text", false, "Print only the transcript text")
	fs.Parse(args)

	r := stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	run := engine.ReadOutput(r)
	t, err := convert.RunOutput(run.Segments, run.Info)
	if err != nil {
		return err
	}
	if *textOnly {
		_, err := fmt.Fprintln(out, t.Text())
		return err
	}
	return writeJSON(out, t)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportError prints field errors one per line, qualified with their
// location for converted engine output.
func reportError(w io.Writer, err error) {
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		fmt.Fprintln(w, err)
		return
	}
	var path string
	var cerr *convert.ConversionError
	if errors.As(err, &cerr) {
		path = cerr.Path
	}
	fmt.Fprintf(w, "invalid %s\n", verr.Entity)
	for _, f := range verr.Fields {
		field := f.Field
		if path != "" {
			field = path + "." + field
		}
		fmt.Fprintf(w, "  %s: %s\n", field, f.Reason)
	}
}

func kindList() string {
	return strings.Join(slices.Sorted(maps.Keys(builders)), "|")
}
