// Command edgeprofile analyzes a single candle window offline and prints the
// resulting snapshot. It needs no Redis, Postgres or network access.
//
// The input is either a JSON array of candles or an object of the form
// {"symbol": "...", "candles": [...], "current_price": 0}.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
	signals "github.com/alanyoungcy/edgeprofiler/internal/orderflow"
	"github.com/alanyoungcy/edgeprofiler/internal/profile"
	"github.com/alanyoungcy/edgeprofiler/internal/service"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "edgeprofile: %v\n", err)
		os.Exit(1)
	}
}

type window struct {
	Symbol       string          `json:"symbol"`
	Candles      []domain.Candle `json:"candles"`
	CurrentPrice float64         `json:"current_price"`
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("edgeprofile", flag.ContinueOnError)
	in := fs.String("in", "-", "input file, - for stdin")
	price := fs.Float64("price", 0, "current price; 0 uses the last close")
	symbol := fs.String("symbol", "", "symbol label for the snapshot")
	format := fs.String("format", "json", "output format: json or yaml")
	pretty := fs.Bool("pretty", false, "indent JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *format != "json" && *format != "yaml" {
		return fmt.Errorf("unknown format %q", *format)
	}

	var r io.Reader = stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	w, err := decodeWindow(raw)
	if err != nil {
		return err
	}
	if *price != 0 {
		w.CurrentPrice = *price
	}
	if *symbol != "" {
		w.Symbol = *symbol
	}
	if w.Symbol == "" {
		w.Symbol = "ADHOC"
	}
	if w.CurrentPrice < 0 {
		return errors.New("current price must not be negative")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewProfileService(
		profile.NewAnalyzer(profile.DefaultConfig()),
		signals.NewDetector(signals.DefaultConfig()),
		nil, nil, logger,
	)
	snap := svc.Snapshot(w.Symbol, w.Candles, w.CurrentPrice)

	return encode(stdout, snap, *format, *pretty)
}

func decodeWindow(raw []byte) (window, error) {
	var w window
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return w, errors.New("empty input")
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &w.Candles); err != nil {
			return w, fmt.Errorf("decode candles: %w", err)
		}
		return w, nil
	}
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return w, fmt.Errorf("decode window: %w", err)
	}
	return w, nil
}

// encode writes snap as JSON, or as YAML keyed by the same field names.
func encode(out io.Writer, snap domain.Snapshot, format string, pretty bool) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		if pretty {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(snap)
	}

	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
