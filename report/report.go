// Package report renders scan results as text, CSV, JSON or XLSX.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/timzifer/eloss/scan"
)

// Supported formats.
const (
	FormatText = "text"
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// DefaultPrecision is the number of decimals used for energies.
const DefaultPrecision = 6

// Writer renders a complete set of scan rows.
type Writer interface {
	WriteRows(rows []scan.Row) error
}

// Options tune the rendering.
type Options struct {
	// Precision is the number of decimals for energies (0..15).
	Precision int
	// Columns orders the derived columns. Derived values not listed are
	// omitted.
	Columns []string
}

// New returns the writer for format.
func New(format string, w io.Writer, opts Options) (Writer, error) {
	if w == nil {
		return nil, fmt.Errorf("report: writer must not be nil")
	}
	if opts.Precision < 0 || opts.Precision > 15 {
		return nil, fmt.Errorf("report: precision must be within 0..15, got %d", opts.Precision)
	}
	base := tabular{precision: int32(opts.Precision), columns: append([]string(nil), opts.Columns...)}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return &textWriter{tabular: base, out: w}, nil
	case FormatCSV:
		return &csvWriter{tabular: base, out: w}, nil
	case FormatJSON:
		return &jsonWriter{tabular: base, out: w}, nil
	case FormatXLSX:
		return &xlsxWriter{tabular: base, out: w}, nil
	default:
		return nil, fmt.Errorf("report: unsupported format %q", format)
	}
}

// Formats lists the supported format names.
func Formats() []string {
	return []string{FormatText, FormatCSV, FormatJSON, FormatXLSX}
}

type tabular struct {
	precision int32
	columns   []string
}

// header lists the table columns. Layer labels are taken from the first row;
// every row of a scan shares the same setup and therefore the same layers.
func (t tabular) header(rows []scan.Row) []string {
	head := []string{"index", "rhoa", "pressure"}
	if len(rows) > 0 {
		for _, layer := range rows[0].Chain.Layers {
			head = append(head, layer.Label())
		}
	}
	head = append(head, "total", "residual", "stopped")
	return append(head, t.columns...)
}

// cells returns the numeric values of one row in header order. Booleans are
// rendered as 0 or 1.
func (t tabular) cells(row scan.Row) []float64 {
	out := []float64{float64(row.Index), row.Rhoa, row.Pressure}
	out = append(out, row.Chain.Losses()...)
	stopped := 0.0
	if row.Chain.Stopped {
		stopped = 1
	}
	out = append(out, row.Chain.Total(), row.Chain.Residual, stopped)
	for _, name := range t.columns {
		out = append(out, row.Columns[name])
	}
	return out
}

// energy formats an energy with the configured number of decimals.
func (t tabular) energy(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(t.precision)
}

// round returns v rounded to the configured number of decimals.
func (t tabular) round(v float64) float64 {
	return decimal.NewFromFloat(v).Round(t.precision).InexactFloat64()
}

// record renders the row in header order.
func (t tabular) record(row scan.Row) []string {
	values := t.cells(row)
	out := make([]string, len(values))
	for i, v := range values {
		switch {
		case i == 0:
			out[i] = strconv.Itoa(row.Index)
		case i == 1 || i == 2:
			out[i] = strconv.FormatFloat(v, 'g', -1, 64)
		case i == len(values)-len(t.columns)-1:
			out[i] = strconv.FormatBool(row.Chain.Stopped)
		default:
			out[i] = t.energy(v)
		}
	}
	return out
}

type textWriter struct {
	tabular
	out io.Writer
}

// WriteRows prints one line per point: the grid position followed by the
// bracketed list of layer losses in beam order.
func (w *textWriter) WriteRows(rows []scan.Row) error {
	for _, row := range rows {
		losses := row.Chain.Losses()
		parts := make([]string, len(losses))
		for i, loss := range losses {
			parts[i] = w.energy(loss)
		}
		line := fmt.Sprintf("rhoa=%g pressure=%g [%s] residual=%s",
			row.Rhoa, row.Pressure, strings.Join(parts, ", "), w.energy(row.Chain.Residual))
		if row.Chain.Stopped {
			line += " stopped"
		}
		for _, name := range w.columns {
			line += fmt.Sprintf(" %s=%s", name, w.energy(row.Columns[name]))
		}
		if _, err := fmt.Fprintln(w.out, line); err != nil {
			return err
		}
	}
	return nil
}

type csvWriter struct {
	tabular
	out io.Writer
}

func (w *csvWriter) WriteRows(rows []scan.Row) error {
	cw := csv.NewWriter(w.out)
	if err := cw.Write(w.header(rows)); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(w.record(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonWriter struct {
	tabular
	out io.Writer
}

type jsonLayer struct {
	Label     string          `json:"label"`
	Material  string          `json:"material"`
	Thickness float64         `json:"thickness"`
	EnergyIn  decimal.Decimal `json:"energy_in"`
	Loss      decimal.Decimal `json:"loss"`
	Stopped   bool            `json:"stopped,omitempty"`
}

type jsonRow struct {
	Index    int                        `json:"index"`
	Rhoa     float64                    `json:"rhoa"`
	Pressure float64                    `json:"pressure"`
	Layers   []jsonLayer                `json:"layers"`
	Total    decimal.Decimal            `json:"total"`
	Residual decimal.Decimal            `json:"residual"`
	Stopped  bool                       `json:"stopped"`
	Columns  map[string]decimal.Decimal `json:"columns,omitempty"`
}

func (w *jsonWriter) WriteRows(rows []scan.Row) error {
	out := make([]jsonRow, 0, len(rows))
	for _, row := range rows {
		jr := jsonRow{
			Index:    row.Index,
			Rhoa:     row.Rhoa,
			Pressure: row.Pressure,
			Total:    w.dec(row.Chain.Total()),
			Residual: w.dec(row.Chain.Residual),
			Stopped:  row.Chain.Stopped,
		}
		for _, layer := range row.Chain.Layers {
			jr.Layers = append(jr.Layers, jsonLayer{
				Label:     layer.Label(),
				Material:  layer.Material,
				Thickness: layer.Thickness,
				EnergyIn:  w.dec(layer.EnergyIn),
				Loss:      w.dec(layer.Loss),
				Stopped:   layer.Stopped,
			})
		}
		if len(w.columns) > 0 {
			jr.Columns = make(map[string]decimal.Decimal, len(w.columns))
			for _, name := range w.columns {
				jr.Columns[name] = w.dec(row.Columns[name])
			}
		}
		out = append(out, jr)
	}
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (t tabular) dec(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(t.precision)
}
