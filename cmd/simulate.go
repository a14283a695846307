package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adalundhe/ensemble/core/arrange"
	"github.com/adalundhe/ensemble/core/client"
	"github.com/adalundhe/ensemble/core/clock"
	"github.com/adalundhe/ensemble/core/config"
	"github.com/adalundhe/ensemble/core/gateway"
	"github.com/adalundhe/ensemble/core/journal"
	"github.com/adalundhe/ensemble/core/locks"
	"github.com/adalundhe/ensemble/core/relay"
	"github.com/adalundhe/ensemble/core/throttle"
	"github.com/adalundhe/ensemble/core/wire"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a scripted two-editor session",
	Long:  `Drive two simulated editors through a drag gesture and print the wire traffic.`,
	RunE:  runSimulate,
}

var (
	simulateConfigPath string
	simulateDrags      int
	simulateStep       time.Duration
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVarP(&simulateConfigPath, "config", "c", "", "Path to config file")
	simulateCmd.Flags().IntVar(&simulateDrags, "drags", 25, "Number of drag movements in the gesture")
	simulateCmd.Flags().DurationVar(&simulateStep, "step", 20*time.Millisecond, "Simulated time between drag movements")
}

// eventCounter tallies broadcast traffic by event name.
type eventCounter struct {
	mu     sync.Mutex
	counts map[wire.EventName]int
	total  int
}

func (c *eventCounter) observe(env *wire.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[env.Name]++
	c.total++
}

func runSimulate(cmd *cobra.Command, args []string) error {
	manager := config.NewManager(newLogger("error"))
	if simulateConfigPath != "" {
		if err := manager.Load(simulateConfigPath); err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
	}
	cfg := manager.Get()

	intervals, err := cfg.ThrottleIntervals()
	if err != nil {
		return err
	}
	idle, err := cfg.LockIdleTimeout()
	if err != nil {
		return err
	}
	sweep, err := cfg.LockSweepInterval()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	clk := clock.NewManual(time.Now())

	hub := gateway.NewLoopback(logger)
	jnl, err := journal.New(journal.Config{
		NumCounters: cfg.Journal.NumCounters,
		MaxCost:     cfg.Journal.MaxCost,
		BufferItems: cfg.Journal.BufferItems,
	})
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	defer jnl.Close()

	rly := relay.New(hub, jnl, relay.Config{
		LockIdleTimeout: idle,
		SweepInterval:   sweep,
	}, relay.WithClock(clk), relay.WithLogger(logger))
	defer rly.Stop()

	const room = "studio"

	counter := &eventCounter{counts: make(map[wire.EventName]int)}
	observerPort, err := hub.Attach("observer")
	if err != nil {
		return err
	}
	observerPort.Join(room)
	if _, err := observerPort.Subscribe("arrange:*", counter.observe); err != nil {
		return err
	}

	alice, err := joinEditor(hub, rly, clk, intervals, room, "alice", "Alice", logger)
	if err != nil {
		return err
	}
	defer alice.Close()

	bob, err := joinEditor(hub, rly, clk, intervals, room, "bob", "Bob", logger)
	if err != nil {
		return err
	}
	defer bob.Close()

	track := arrange.Track{ID: "track-1", Name: "Lead", Instrument: "synth", Volume: 0.8}
	if err := alice.AddTrack(track); err != nil {
		return err
	}
	region := arrange.Region{ID: "region-1", TrackID: track.ID, Name: "Intro", Start: 0, Duration: 8}
	if err := alice.AddRegion(region); err != nil {
		return err
	}

	if err := alice.BeginGesture(region.ID, locks.LockRegion); err != nil {
		return err
	}

	denials := 0
	if err := bob.BeginGesture(region.ID, locks.LockRegion); errors.Is(err, client.ErrLockDenied) {
		denials++
	} else if err != nil {
		return err
	}

	for i := 1; i <= simulateDrags; i++ {
		start := float64(i) * 0.25
		if err := alice.DragRegion(region.ID, arrange.RegionUpdates{Start: &start}); err != nil {
			return err
		}
		clk.Advance(simulateStep)
	}
	clk.Advance(time.Second)

	if err := alice.EndGesture(region.ID); err != nil {
		return err
	}

	printSimulationReport(counter, bob, region.ID, denials)
	return nil
}

func joinEditor(
	hub *gateway.Loopback,
	rly *relay.Relay,
	clk clock.Clock,
	intervals throttle.Intervals,
	room string,
	userID string,
	username string,
	logger *slog.Logger,
) (*client.Session, error) {
	// The hub client ID is the user ID; the relay routes denials and
	// disconnect cleanup by it.
	port, err := hub.Attach(userID)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession(client.Params{
		Room:      room,
		UserID:    userID,
		Username:  username,
		Port:      port,
		Intervals: intervals,
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		port.Close()
		return nil, err
	}

	snapshot, replay, err := rly.Join(userID, room)
	if err != nil {
		session.Close()
		return nil, err
	}
	session.Resync(snapshot, replay)
	return session, nil
}

func printSimulationReport(counter *eventCounter, follower *client.Session, regionID string, denials int) {
	counter.mu.Lock()
	defer counter.mu.Unlock()

	fmt.Println("Simulation complete")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Printf("Drag movements issued:  %d\n", simulateDrags)
	fmt.Printf("Lock denials observed:  %d\n", denials)
	fmt.Printf("Broadcasts observed:    %d\n", counter.total)
	for _, name := range wire.ValidEventNames() {
		if n := counter.counts[name]; n > 0 {
			fmt.Printf("  %-32s %d\n", name, n)
		}
	}

	if region, ok := follower.State().Regions.Get(regionID); ok {
		fmt.Printf("Follower region start:  %.2f beats\n", region.Start)
	}
}
