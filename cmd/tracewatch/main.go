// Command tracewatch tails a tracehub server from the terminal.
//
// Usage:
//
//	./tracewatch -url ws://localhost:8000/ws
//	./tracewatch -url ws://localhost:8000/ws -stats
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracehub/internal/observer"
	"github.com/GriffinCanCode/tracehub/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8000/ws", "Hub WebSocket URL")
	limit := flag.Int("limit", 20, "Records fetched on connect")
	stats := flag.Bool("stats", false, "Print pushed stats")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	level := "warn"
	if *dev {
		level = "debug"
	}
	logger := logging.NewFromLevel(level, *dev)
	defer logger.Sync()

	opts := observer.DefaultOptions(*url)
	opts.PageLimit = *limit
	client := observer.New(opts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.OnStatus(func(s observer.Status) {
		fmt.Fprintf(os.Stderr, "-- %s\n", s)
		if s == observer.StatusConnected {
			go func() { printPage(client.GetTraces(ctx, 1, *limit)) }()
		}
	})
	client.On(protocol.TypeNewTrace, func(ev protocol.Event) {
		printRecord(ev.(protocol.NewTrace).Record)
	})
	client.On(protocol.TypeTrace, func(ev protocol.Event) {
		if rec := ev.(protocol.Trace).Record; !rec.Pending() {
			printRecord(rec)
		}
	})
	client.On(protocol.TypeTracesCleared, func(protocol.Event) {
		fmt.Println("-- cleared")
	})
	if *stats {
		client.On(protocol.TypeStats, func(ev protocol.Event) {
			s := ev.(protocol.Stats).Stats
			fmt.Printf("-- %d traces, avg %.1fms, %.1f%% ok\n", s.Total, s.AvgResponseTime, s.SuccessRate)
		})
	}

	if err := client.Connect(ctx); err != nil {
		logger.Warn("Initial connect failed, retrying", zap.Error(err))
	}

	<-ctx.Done()
	client.Disconnect()
}

func printPage(page trace.Page) {
	for i := len(page.Traces) - 1; i >= 0; i-- {
		printRecord(page.Traces[i])
	}
}

func printRecord(rec trace.Record) {
	status := "..."
	if rec.StatusCode != nil {
		status = fmt.Sprint(*rec.StatusCode)
	}
	fmt.Printf("%s %-6s %-40s %s %6dms\n",
		rec.StartTime.Format(time.TimeOnly), rec.Method, rec.Path, status, rec.DurationMs)
}
