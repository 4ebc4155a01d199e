package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/haukened/caspio-proxy/internal/upstream"
)

type fetchFlags struct {
	upstream string
	where    string
	orderBy  string
	fields   string
	params   []string
	maxPages int
	rows     int
	asJSON   bool
}

func newFetchCmd() *cobra.Command {
	var f fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch <resource>",
		Short: "Fetch every page of an upstream resource and print it",
		Example: `  caspio-proxy fetch tables/Pricing_Tiers/records --where "DecorationMethod='DTG'"
  caspio-proxy fetch orders --upstream manageorders --param date_Ordered_start=2025-03-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			u, shape := cfg.Caspio, upstream.CaspioShape
			switch f.upstream {
			case "caspio":
			case "manageorders":
				u, shape = cfg.ManageOrders, upstream.ManageOrdersShape
			default:
				return fmt.Errorf("unknown upstream %q", f.upstream)
			}
			if !u.Configured() {
				return fmt.Errorf("%s credentials not configured", f.upstream)
			}
			_, client, err := newUpstream(f.upstream, u, shape, cfg, nil, log)
			if err != nil {
				return err
			}
			params, err := f.values()
			if err != nil {
				return err
			}
			res, err := client.FetchAll(cmd.Context(), args[0], params, upstream.Options{MaxPages: f.maxPages})
			if err != nil {
				return fmt.Errorf("fetch %s: %w", args[0], err)
			}
			if f.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res.Records)
			}
			renderResult(cmd.OutOrStdout(), res, f.rows)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.upstream, "upstream", "caspio", "Upstream to query (caspio, manageorders)")
	fl.StringVar(&f.where, "where", "", "q.where clause")
	fl.StringVar(&f.orderBy, "order-by", "", "q.orderBy clause")
	fl.StringVar(&f.fields, "select", "", "q.select field list")
	fl.StringArrayVar(&f.params, "param", nil, "Extra query parameter as key=value (repeatable)")
	fl.IntVar(&f.maxPages, "max-pages", 0, "Page cap (0 uses the configured cap)")
	fl.IntVar(&f.rows, "rows", 20, "Rows to print in the table (0 prints all)")
	fl.BoolVar(&f.asJSON, "json", false, "Print all records as JSON instead of a table")
	return cmd
}

// values builds the query string sent with every page.
func (f fetchFlags) values() (url.Values, error) {
	v := url.Values{}
	for key, val := range map[string]string{"q.where": f.where, "q.orderBy": f.orderBy, "q.select": f.fields} {
		if val != "" {
			v.Set(key, val)
		}
	}
	for _, p := range f.params {
		key, val, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", p)
		}
		v.Add(key, val)
	}
	return v, nil
}

// renderResult prints up to rows records as a table followed by a summary of
// how the walk ended.
func renderResult(w io.Writer, res upstream.Result, rows int) {
	shown := res.Records
	if rows > 0 && len(shown) > rows {
		shown = shown[:rows]
	}
	cols := columns(shown)
	if len(cols) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		header := make(table.Row, len(cols))
		for i, c := range cols {
			header[i] = c
		}
		t.AppendHeader(header)
		for _, rec := range shown {
			row := make(table.Row, len(cols))
			for i, c := range cols {
				row[i] = rec.String(c)
			}
			t.AppendRow(row)
		}
		t.SetStyle(table.StyleLight)
		t.Render()
	}

	status := color.GreenString("complete")
	if !res.Complete {
		status = color.YellowString("partial")
	}
	fmt.Fprintf(w, "%d records (%d shown) from %d pages in %s: %s (%s)\n",
		len(res.Records), len(shown), res.Pages, res.Elapsed.Round(time.Millisecond), status, res.Reason)
}

// columns returns the union of field names. Each record contributes its new
// names sorted, after those of earlier records.
func columns(recs []domain.Record) []string {
	var cols []string
	seen := map[string]bool{}
	for _, rec := range recs {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}
