// Command tracking-viewer follows parcels on a tracking relay and prints the
// notifications a viewer would see.
//
// Usage:
//
//	tracking-viewer [options] PARCEL_ID...
//
// Options:
//
//	-url URL          Relay base URL (default: http://localhost:8080, env: TRACKING_URL)
//	-token TOKEN      Bearer token (env: TRACKING_TOKEN)
//	-locations        Print driver location notifications (default: true)
//	-eta              Print ETA change notifications (default: true)
//	-milestones       Print milestone notifications (default: true)
//	-delays           Print delay warnings (default: true)
//	-debug            Verbose logging
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/99minutos/tracking-relay/pkg/logger"
	"github.com/99minutos/tracking-relay/pkg/reconciler"
	"github.com/99minutos/tracking-relay/pkg/trackingclient"
)

func main() {
	baseURL := flag.String("url", envOrDefault("TRACKING_URL", "http://localhost:8080"), "Relay base URL")
	token := flag.String("token", os.Getenv("TRACKING_TOKEN"), "Bearer token")
	locations := flag.Bool("locations", true, "Print driver location notifications")
	etas := flag.Bool("eta", true, "Print ETA change notifications")
	milestones := flag.Bool("milestones", true, "Print milestone notifications")
	delays := flag.Bool("delays", true, "Print delay warnings")
	debug := flag.Bool("debug", false, "Verbose logging")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: tracking-viewer [options] PARCEL_ID...")
		os.Exit(2)
	}

	level := "warn"
	if *debug {
		level = "debug"
	}
	log := logger.Init(logger.Options{Service: "tracking-viewer", Level: level, Pretty: true, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := reconciler.New(reconciler.Preferences{
		PushNotifications: true,
		LocationUpdates:   *locations,
		ETAChanges:        *etas,
		MilestoneAlerts:   *milestones,
		DelayWarnings:     *delays,
	})
	client := trackingclient.New(trackingclient.Config{
		BaseURL: *baseURL,
		Token:   *token,
		Log:     log,
	})

	for _, id := range flag.Args() {
		if err := client.Subscribe(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Error subscribing to %s: %v\n", id, err)
			os.Exit(1)
		}
	}

	go func() { _ = client.Run(ctx) }()

	for {
		select {
		case <-client.Done():
			return
		case state := <-client.States():
			fmt.Printf("[%s] connection\n", state)
		case ev := <-client.Events():
			for _, n := range view.Apply(ev) {
				fmt.Printf("%s  %-9s %-12s %s\n", n.At.Local().Format("15:04:05"), n.Kind, n.ParcelID, n.Message)
			}
			if msg := view.LastError(); msg != "" && ev.Error != "" {
				fmt.Fprintf(os.Stderr, "relay error: %s\n", msg)
			}
		}
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
