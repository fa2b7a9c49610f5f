package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nearspeed/nearspeed/internal/config"
	"github.com/nearspeed/nearspeed/internal/history"
	"github.com/nearspeed/nearspeed/speedtest"
)

// maxHistory bounds the runs kept by --save.
const maxHistory = 1000

// runner executes the modes selected on the command line in pipeline order:
// location, server list, selection, download, upload.
type runner struct {
	cfg    *config.Config
	client *speedtest.Speedtest
	tm     *TaskManager
	unit   speedtest.UnitType
	loc    *speedtest.Location
}

func (r *runner) run(ctx context.Context) int {
	needList := *showList || *selectServer || *automated
	needLoc := *showLocation || *selectServer || *automated

	if needLoc {
		r.locate(ctx)
	}

	var servers speedtest.Servers
	if needList {
		list, err := speedtest.LoadServerList(r.cfg.ServerList)
		if err != nil {
			r.tm.Stop()
			fmt.Fprintf(os.Stderr, "nearspeed: cannot load server list: %v\n", err)
			return exitInput
		}
		if list.Skipped > 0 {
			r.tm.Println(fmt.Sprintf("Skipped %d malformed server entries", list.Skipped))
		}
		servers = list.Servers
		if *showList {
			r.printList(servers)
		}
	}

	var sel *speedtest.Selection
	if *selectServer || *automated {
		sel = r.selectServer(ctx, servers)
	}

	downHost, upHost := *downloadHost, *uploadHost
	if *automated && sel != nil && sel.Server != nil {
		if downHost == "" {
			downHost = sel.Server.Host
		}
		if upHost == "" {
			upHost = sel.Server.Host
		}
	}

	var down, up *speedtest.TransferResult
	if downHost != "" {
		down = r.measure(ctx, speedtest.Download, downHost)
	}
	if upHost != "" {
		up = r.measure(ctx, speedtest.Upload, upHost)
	}

	report := speedtest.NewReport(r.loc, sel, down, up)
	if *automated && *save {
		if err := r.save(report); err != nil {
			r.tm.Stop()
			fmt.Fprintf(os.Stderr, "nearspeed: history: %v\n", err)
			return exitInput
		}
	}
	r.tm.Stop()
	if *jsonOutput {
		printJSON(report)
	}
	return exitOK
}

func (r *runner) locate(ctx context.Context) {
	if r.loc != nil {
		r.tm.Println("Location: " + r.loc.String())
		return
	}
	r.tm.Run("Detecting location", func(task *Task) {
		r.loc = r.client.ResolveLocation(ctx)
		if r.loc == nil {
			task.Println("Location: Unknown (selecting from all servers)")
			task.Error()
			return
		}
		task.Println("Location: " + r.loc.String())
		task.Complete()
	})
}

func (r *runner) printList(servers speedtest.Servers) {
	for _, s := range servers {
		r.tm.Println(s.String())
	}
}

func (r *runner) selectServer(ctx context.Context, servers speedtest.Servers) *speedtest.Selection {
	var sel *speedtest.Selection
	r.tm.Run("Selecting server", func(task *Task) {
		var err error
		sel, err = r.client.SelectBest(ctx, servers, r.loc)
		probes := len(sel.Probed)
		if err != nil {
			if errors.Is(err, speedtest.ErrNoServerFound) {
				task.Printf("Server: none reachable (%d probed)", probes)
			} else {
				task.Printf("Server: selection aborted: %v", err)
			}
			task.Error()
			return
		}
		task.Printf("Server: %s [%s match, %d probed]", sel.Server, sel.Tier, probes)
		task.Complete()
	})
	return sel
}

func (r *runner) measure(ctx context.Context, direction speedtest.Direction, host string) *speedtest.TransferResult {
	title := directionTitle(direction)
	var result *speedtest.TransferResult
	r.tm.Run(title+": "+host, func(task *Task) {
		progress := func(p speedtest.Progress) {
			if pct, ok := p.Percent(); ok {
				task.Updatef("%s: %s (%.0f%%)", title, p.Rate.Byte(r.unit), pct)
				return
			}
			task.Updatef("%s: %s (%.1f MiB)", title, p.Rate.Byte(r.unit), float64(p.Bytes)/speedtest.MiB)
		}
		if direction == speedtest.Upload {
			result = r.client.MeasureUpload(ctx, host, 0, 0, progress)
		} else {
			result = r.client.MeasureDownload(ctx, host, 0, progress)
		}
		task.Println(formatTransfer(result, r.unit))
		if _, ok := result.Mbps(); ok {
			task.Complete()
		} else {
			task.Error()
		}
	})
	return result
}

func (r *runner) save(report *speedtest.Report) error {
	store, err := history.New(r.cfg.HistoryDB, maxHistory)
	if err != nil {
		return err
	}
	defer store.Close()
	id, err := store.Save(history.FromReport(report))
	if err != nil {
		return err
	}
	r.tm.Println("Saved run " + id)
	return nil
}
