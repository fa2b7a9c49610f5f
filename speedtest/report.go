package speedtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type outputTime time.Time

func (t outputTime) MarshalJSON() ([]byte, error) {
	stamp := fmt.Sprintf("\"%s\"", time.Time(t).Format("2006-01-02 15:04:05.000"))
	return []byte(stamp), nil
}

// TransferReport is the serialisable view of a TransferResult.
type TransferReport struct {
	Direction      string  `json:"direction"`
	Host           string  `json:"host"`
	Bytes          uint64  `json:"bytes"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	StatusCode     int     `json:"status_code,omitempty"`
	Outcome        string  `json:"outcome"`
	Available      bool    `json:"available"`
	Mbps           float64 `json:"mbps"`
	Error          string  `json:"error,omitempty"`
}

// NewTransferReport converts r; nil yields nil.
func NewTransferReport(r *TransferResult) *TransferReport {
	if r == nil {
		return nil
	}
	tr := &TransferReport{
		Direction:      r.Direction.String(),
		Host:           r.Host,
		Bytes:          r.Bytes,
		ElapsedSeconds: r.Elapsed.Seconds(),
		StatusCode:     r.StatusCode,
		Outcome:        r.Outcome.String(),
	}
	tr.Mbps, tr.Available = r.Mbps()
	if r.Err != nil {
		tr.Error = r.Err.Error()
	}
	return tr
}

// Report summarises one run: where we are, which server was chosen and what
// each direction measured.
type Report struct {
	Timestamp outputTime      `json:"timestamp"`
	Location  *Location       `json:"location,omitempty"`
	Server    *Server         `json:"server,omitempty"`
	Tier      string          `json:"tier,omitempty"`
	Probed    []string        `json:"probed,omitempty"`
	Download  *TransferReport `json:"download,omitempty"`
	Upload    *TransferReport `json:"upload,omitempty"`
}

// NewReport builds a report stamped with the current time. Any argument may be nil.
func NewReport(loc *Location, sel *Selection, download, upload *TransferResult) *Report {
	r := &Report{
		Timestamp: outputTime(time.Now()),
		Location:  loc,
		Download:  NewTransferReport(download),
		Upload:    NewTransferReport(upload),
	}
	if sel != nil {
		r.Server = sel.Server
		r.Probed = sel.Probed
		if sel.Server != nil {
			r.Tier = sel.Tier.String()
		}
	}
	return r
}

func (r *Report) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// Automated resolves the caller's location unless loc is given, selects the
// best reachable server and measures download then upload against it.
// The report is returned together with ErrNoServerFound when selection fails.
func (s *Speedtest) Automated(ctx context.Context, servers Servers, loc *Location, progress ProgressFunc) (*Report, error) {
	if loc.empty() {
		loc = s.ResolveLocation(ctx)
	}
	sel, err := s.SelectBest(ctx, servers, loc)
	if err != nil {
		if errors.Is(err, ErrNoServerFound) {
			return NewReport(loc, sel, nil, nil), err
		}
		return nil, err
	}
	down := s.MeasureDownload(ctx, sel.Server.Host, 0, progress)
	up := s.MeasureUpload(ctx, sel.Server.Host, 0, 0, progress)
	return NewReport(loc, sel, down, up), nil
}

// Automated uses defaultClient to run the full pipeline.
func Automated(ctx context.Context, servers Servers, loc *Location, progress ProgressFunc) (*Report, error) {
	return defaultClient.Automated(ctx, servers, loc, progress)
}
