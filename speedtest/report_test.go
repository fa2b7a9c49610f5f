package speedtest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestReportJSON(t *testing.T) {
	down := &TransferResult{Direction: Download, Host: "b.example", Bytes: 10 * MiB, Elapsed: 2 * time.Second, StatusCode: 200, Outcome: TimedOut}
	up := &TransferResult{Direction: Upload, Host: "b.example", Outcome: Failed, Err: errors.New("connection refused")}
	sel := &Selection{Server: &Server{Host: "b.example", Country: "US", City: "LA"}, Tier: TierCityCountry, Probed: []string{"b.example"}}

	data, err := NewReport(&Location{Country: "US", City: "LA"}, sel, down, up).JSON()
	if err != nil {
		t.Fatal(err)
	}

	var got struct {
		Timestamp string
		Tier      string
		Server    Server
		Download  TransferReport
		Upload    TransferReport
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if _, err := time.Parse("2006-01-02 15:04:05.000", got.Timestamp); err != nil {
		t.Errorf("unexpected timestamp %q", got.Timestamp)
	}
	if got.Tier != "city+country" || got.Server.Host != "b.example" {
		t.Errorf("unexpected selection in %s", data)
	}
	if !got.Download.Available || !closeTo(got.Download.Mbps, 41.94304) || got.Download.Outcome != "timed out" {
		t.Errorf("unexpected download %+v", got.Download)
	}
	if got.Upload.Available || got.Upload.Error != "connection refused" {
		t.Errorf("unexpected upload %+v", got.Upload)
	}
}

func TestNewReportEmpty(t *testing.T) {
	r := NewReport(nil, &Selection{}, nil, nil)
	if r.Server != nil || r.Tier != "" || r.Download != nil || r.Upload != nil {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestAutomated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = io.Copy(w, NewRepeatReader(MiB))
		case http.MethodPost:
			_, _ = io.Copy(io.Discard, r.Body)
		}
	}))
	defer srv.Close()
	host := hostOf(srv)

	servers := Servers{
		{Host: "down.example", Country: "US", City: "LA"},
		{Host: host, Country: "US", City: "NYC"},
	}
	c := New(
		WithDoer(srv.Client()),
		WithProber(newRecordingProber(host)),
		WithResolver(staticResolver{loc: &Location{Country: "US", City: "LA"}}),
		WithUserConfig(&UserConfig{UploadSize: MiB, TransferTimeout: 5 * time.Second}),
	)
	report, err := c.Automated(context.Background(), servers, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Server.Host != host || report.Tier != "country" {
		t.Errorf("got: %v at %s, expected %s at country", report.Server, report.Tier, host)
	}
	if report.Location == nil || report.Location.City != "LA" {
		t.Errorf("unexpected location %v", report.Location)
	}
	if !report.Download.Available || report.Download.Bytes != MiB {
		t.Errorf("unexpected download %+v", report.Download)
	}
	if !report.Upload.Available || report.Upload.Bytes != MiB {
		t.Errorf("unexpected upload %+v", report.Upload)
	}
}

func TestAutomatedNoServer(t *testing.T) {
	c := New(WithProber(newRecordingProber()), WithResolver(staticResolver{err: ErrNoLocation}))
	report, err := c.Automated(context.Background(), scenarioServers(), nil, nil)
	if !errors.Is(err, ErrNoServerFound) {
		t.Fatalf("got: %v, expected %v", err, ErrNoServerFound)
	}
	if report == nil || report.Download != nil || len(report.Probed) != 3 {
		t.Errorf("unexpected report %+v", report)
	}
}
