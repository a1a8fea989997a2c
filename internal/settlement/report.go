package settlement

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// csvHeader matches the columns of the operator settlement report.
var csvHeader = []string{
	"Sale ID",
	"User",
	"Burned kWh (micro)",
	"Share (%)",
	"Claimable (BRL cents)",
	"Claimable (BRL)",
}

// WriteCSV writes one row per share.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	saleID := strconv.FormatUint(r.SaleID, 10)
	for _, s := range r.Shares {
		row := []string{
			saleID,
			string(s.User),
			strconv.FormatUint(s.BurnedAmount, 10),
			fixed(s.SharePPM, 10_000, 4),
			strconv.FormatUint(s.ClaimableAmount, 10),
			fixed(s.ClaimableAmount, 100, 2),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", s.User, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReportFile writes the CSV report into dir as
// settlement_report_sale_<id>_<unix>.csv and returns the path.
func WriteReportFile(dir string, r Report, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("settlement_report_sale_%d_%d.csv", r.SaleID, now.Unix()))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	if err := WriteCSV(f, r); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report: %w", err)
	}
	return path, nil
}

// fixed formats v/scale with the given number of decimals, no floats.
func fixed(v, scale uint64, decimals int) string {
	return fmt.Sprintf("%d.%0*d", v/scale, decimals, v%scale)
}

// WriteReports writes one CSV file per report into dir and returns the paths
// written. It writes nothing when dir is empty.
func WriteReports(dir string, reports []Report, now time.Time) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	paths := make([]string, 0, len(reports))
	for _, r := range reports {
		path, err := WriteReportFile(dir, r, now)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
