package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/nearspeed/nearspeed/internal/history"
	"github.com/nearspeed/nearspeed/speedtest"
)

func directionTitle(d speedtest.Direction) string {
	if d == speedtest.Upload {
		return "Upload"
	}
	return "Download"
}

// formatTransfer renders one direction for humans. Anything without a rate
// is reported as Failed with the reason.
func formatTransfer(r *speedtest.TransferResult, unit speedtest.UnitType) string {
	title := directionTitle(r.Direction)
	if rate, ok := r.Rate(); ok {
		line := fmt.Sprintf("%s: %s (%.2f MiB in %.2fs)", title, rate.Byte(unit), float64(r.Bytes)/speedtest.MiB, r.Elapsed.Seconds())
		if r.Outcome == speedtest.TimedOut {
			line += ", cut off at deadline"
		}
		return line
	}
	switch {
	case r.Err != nil:
		return fmt.Sprintf("%s: Failed (%s: %v)", title, r.Outcome, r.Err)
	case r.StatusCode != 0 && r.StatusCode != 200:
		return fmt.Sprintf("%s: Failed (HTTP %d)", title, r.StatusCode)
	default:
		return fmt.Sprintf("%s: Failed (%s, no data)", title, r.Outcome)
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "nearspeed: json: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func formatMbps(v *float64, unit speedtest.UnitType) string {
	if v == nil {
		return "Failed"
	}
	return speedtest.ByteRate(*v * 1e6 / 8).Byte(unit)
}

func printHistory(w io.Writer, records []history.Record, unit speedtest.UnitType) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No stored runs")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSERVER\tLOCATION\tDOWNLOAD\tUPLOAD")
	for _, r := range records {
		loc := (&speedtest.Location{Country: r.Country, City: r.City}).String()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Host, loc,
			formatMbps(r.DownloadMbps, unit), formatMbps(r.UploadMbps, unit))
	}
	tw.Flush()
}
