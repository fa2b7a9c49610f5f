package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nearspeed/nearspeed/speedtest"
)

func main() {
	list, err := speedtest.LoadServerList("servers.json")
	checkError(err)

	client := speedtest.New(speedtest.WithUserConfig(&speedtest.UserConfig{
		TransferTimeout:  10 * time.Second,
		ProbeConcurrency: 4,
	}))
	ctx := context.Background()

	// A nil location only widens the search.
	loc := client.ResolveLocation(ctx)
	// loc, _ = speedtest.ParseLocation("Japan,Tokyo")

	sel, err := client.SelectBest(ctx, list.Servers, loc)
	checkError(err)
	fmt.Printf("Location: %s, Server: %s\n", loc, sel)

	down := client.MeasureDownload(ctx, sel.Server.Host, 0, func(p speedtest.Progress) {
		fmt.Printf("\r%.1f MiB at %s", float64(p.Bytes)/speedtest.MiB, p.Rate)
	})
	fmt.Println()
	up := client.MeasureUpload(ctx, sel.Server.Host, 10*speedtest.MiB, 0, nil)

	fmt.Println(down)
	fmt.Println(up)
}

func checkError(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
