package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/inference-sim/dispatch-sim/sim"
)

const defaultRefresh = 100 * time.Millisecond

var refreshInterval time.Duration // Wall-clock refresh; virtual time advances in step

// Config used for servers added from the keyboard.
var liveServerConfig = sim.ServerConfig{Weight: 1, MaxConnections: 5, ProcessingTimeMs: 1000}

// liveCmd drives a simulation in real time from the keyboard
var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Drive a dispatch simulation interactively",
	Long: `Live runs the simulator against the wall clock and redraws the server table
on every refresh. The dispatch driver is controlled from the keyboard; logs go
to stderr so they don't get cleared by the status screen.`,
	RunE: runLive,
}

func runLive(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd)
	if err != nil {
		return err
	}
	setupLogging(v)

	cfg, _, err := resolveSimConfig(cmd, v)
	if err != nil {
		return err
	}
	s, err := sim.NewSimulator(cfg)
	if err != nil {
		return fmt.Errorf("creating simulator: %w", err)
	}
	refresh := v.GetDuration("refresh")
	if refresh <= 0 {
		return fmt.Errorf("--refresh must be positive, got %s", refresh)
	}

	if err := keyboard.Open(); err != nil {
		return fmt.Errorf("failed to initialize keyboard: %w", err)
	}
	defer keyboard.Close()

	// Only runes cross into the main loop; the simulator stays on this goroutine.
	var keyCh = make(chan rune)
	go func() {
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			if key == keyboard.KeyEsc || key == keyboard.KeyCtrlC {
				char = 'q'
			}
			keyCh <- char
		}
	}()

	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var ticker = time.NewTicker(refresh)
	defer ticker.Stop()

	status := "press s to start"
	renderStatus(os.Stdout, s, status)
	for {
		select {
		case <-ticker.C:
			s.Advance(refresh.Milliseconds())
			renderStatus(os.Stdout, s, status)
		case key := <-keyCh:
			quit, msg := applyKey(s, key)
			if msg != "" {
				status = msg
			}
			if quit {
				fmt.Print("\n\n")
				s.Metrics.Print(s.Summary())
				return nil
			}
			renderStatus(os.Stdout, s, status)
		case sig := <-sigCh:
			logrus.Infof("received %v, exiting", sig)
			return nil
		}
	}
}

// applyKey maps one keypress onto the simulator's control surface and returns
// whether to quit plus a status line for the screen.
func applyKey(s *sim.Simulator, key rune) (bool, string) {
	switch {
	case key == 's' || key == 'S':
		s.Start()
		return false, "dispatch started"
	case key == 'p' || key == 'P':
		s.Pause()
		return false, "dispatch paused"
	case key == 'x' || key == 'X':
		s.Stop()
		return false, "dispatch stopped, stats cleared"
	case key == 'a' || key == 'A':
		next := nextAlgorithm(s.Algorithm())
		if err := s.SetAlgorithm(string(next)); err != nil {
			return false, err.Error()
		}
		return false, fmt.Sprintf("algorithm: %s (paused)", next.Label())
	case key == '+' || key == '=':
		return false, fmt.Sprintf("rate: %d req/s", s.SetArrivalRate(s.ArrivalRate()+1))
	case key == '-' || key == '_':
		return false, fmt.Sprintf("rate: %d req/s", s.SetArrivalRate(s.ArrivalRate()-1))
	case key >= '1' && key <= '9':
		servers := s.Servers()
		idx := int(key - '1')
		if idx >= len(servers) {
			return false, fmt.Sprintf("no server #%d", idx+1)
		}
		active, err := s.ToggleServer(servers[idx].ID)
		if err != nil {
			return false, err.Error()
		}
		return false, fmt.Sprintf("%s is now %s", servers[idx].Name, statusWord(active))
	case key == 'n' || key == 'N':
		cfg := liveServerConfig
		cfg.Name = fmt.Sprintf("Server %d", len(s.Servers())+1)
		srv, err := s.AddServer(cfg)
		if err != nil {
			return false, err.Error()
		}
		return false, fmt.Sprintf("added %s", srv.Name)
	case key == 'd' || key == 'D':
		servers := s.Servers()
		if len(servers) == 0 {
			return false, "no servers to remove"
		}
		last := servers[len(servers)-1]
		s.RemoveServer(last.ID)
		return false, fmt.Sprintf("removed %s", last.Name)
	case key == 'r' || key == 'R':
		s.Reset()
		return false, "simulation reset"
	case key == 'q' || key == 'Q':
		return true, "quit"
	}
	return false, ""
}

func nextAlgorithm(a sim.Algorithm) sim.Algorithm {
	i := slices.Index(sim.AlgorithmNames, a)
	return sim.AlgorithmNames[(i+1)%len(sim.AlgorithmNames)]
}

func statusWord(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

// renderStatus redraws the whole screen.
func renderStatus(w io.Writer, s *sim.Simulator, status string) {
	sum := s.Summary()
	_, _ = fmt.Fprint(w, "\033[2J\033[H") // Clear screen and move cursor to top
	_, _ = fmt.Fprintf(w, "dispatch-sim  t=%.1fs  state=%s  algorithm=%s  rate=%d req/s\n\n",
		float64(s.Clock())/1000, s.State(), sum.Algorithm, s.ArrivalRate())

	_, _ = fmt.Fprintf(w, "%-3s %-16s %-9s %-7s %-8s %-9s %s\n", "#", "Server", "Status", "Weight", "Conns", "Requests", "Avg (ms)")
	for i, row := range sum.Servers {
		_, _ = fmt.Fprintf(w, "%-3d %-16s %-9s %-7d %-8s %-9d %s\n",
			i+1, row.Name, row.Status, row.Weight, row.Connections, row.TotalRequests, row.AvgResponse)
	}

	_, _ = fmt.Fprintf(w, "\nServed: %d  Dropped: %d  Active servers: %d  Avg response: %s ms\n",
		sum.TotalRequests, s.Metrics.Dropped(), sum.ActiveServers, sum.AvgResponse)
	if len(sum.Servers) > 0 {
		_, _ = fmt.Fprintf(w, "Most traffic: %s (%d)  Least traffic: %s (%d)\n",
			sum.MostTraffic.Name, sum.MostTraffic.Count, sum.LeastTraffic.Name, sum.LeastTraffic.Count)
	}

	_, _ = fmt.Fprintf(w, "\nControls:\n")
	_, _ = fmt.Fprintf(w, "  s start   p pause   x stop   r reset   a next algorithm   +/- rate\n")
	_, _ = fmt.Fprintf(w, "  1-9 toggle server   n add server   d remove last server   q quit\n")
	if status != "" {
		_, _ = fmt.Fprintf(w, "\n> %s\n", status)
	}
}
