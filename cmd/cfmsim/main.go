// cfmsim runs a market through a full round in memory: random trading,
// decision, resolution and redemption, then prints the outcome.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"cfm-engine/internal/config"
	"cfm-engine/internal/logging"
	"cfm-engine/internal/market"

	"go.uber.org/zap"
)

type report struct {
	Market   string               `json:"market"`
	Trades   int                  `json:"trades"`
	Skipped  int                  `json:"skipped"`
	Projects []market.ProjectView `json:"projects"`
	Decision market.Decision      `json:"decision"`
	Payouts  []market.Payout      `json:"payouts"`
}

func main() {
	configPath := flag.String("config", "", "optional config path")
	marketID := flag.String("market", "", "market id (first configured market when empty)")
	rounds := flag.Int("rounds", 5, "simulation rounds before the decision")
	perRound := flag.Int("trades", 20, "trades per round")
	seed := flag.Uint64("seed", 1, "random seed")
	values := flag.String("values", "", "resolved values as key=value pairs separated by commas")
	verbose := flag.Bool("v", false, "log every fill")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	logCfg := config.LoggingConfig{Level: "warn"}
	if *verbose {
		logCfg.Level = "info"
	}
	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	mc, err := pickMarket(cfg, *marketID)
	if err != nil {
		fatal(err)
	}
	m, err := market.New(mc, log)
	if err != nil {
		fatal(err)
	}
	admin, err := adminOf(mc)
	if err != nil {
		fatal(err)
	}

	rng := rand.New(rand.NewPCG(*seed, *seed>>1|1))
	out := report{Market: m.ID()}
	for i := 0; i < *rounds; i++ {
		res, err := m.Simulate(market.SimulateOptions{
			Count:          *perRound,
			BuyProbability: cfg.Simulator.BuyProbability,
			MaxShares:      cfg.Simulator.MaxShares,
			Rand:           rng,
		})
		if err != nil {
			fatal(err)
		}
		out.Trades += res.Executed
		out.Skipped += res.Skipped
	}
	out.Decision, err = m.Decide(admin, market.Latest)
	if err != nil {
		fatal(err)
	}
	final, err := parseValues(*values, out.Decision.Winner)
	if err != nil {
		fatal(err)
	}
	if _, err := m.Resolve(admin, final); err != nil {
		fatal(err)
	}
	out.Payouts, err = m.RedeemAll()
	if err != nil {
		fatal(err)
	}
	out.Projects = m.ListProjects()
	log.Info("simulation finished", zap.String("winner", out.Decision.Winner), zap.Int("trades", out.Trades))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal(err)
	}
}

func pickMarket(cfg *config.Config, id string) (market.Config, error) {
	all := cfg.MarketConfigs()
	if id == "" && len(all) > 0 {
		return all[0], nil
	}
	for _, mc := range all {
		if mc.ID == id {
			return mc, nil
		}
	}
	return market.Config{}, fmt.Errorf("market %q not configured", id)
}

func adminOf(mc market.Config) (string, error) {
	for _, a := range mc.Accounts {
		if a.Admin {
			return a.ID, nil
		}
	}
	return "", fmt.Errorf("market %s has no admin account", mc.ID)
}

// parseValues reads "key=value,..." and files each value under the scenario
// that pays out for that project. Projects left out resolve at the midpoint.
func parseValues(raw, winner string) (map[string]market.FinalValue, error) {
	out := make(map[string]market.FinalValue)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid value %q, want key=value", part)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		key = strings.TrimSpace(key)
		if key == winner {
			out[key] = market.FinalValue{Funded: &v}
		} else {
			out[key] = market.FinalValue{NotFunded: &v}
		}
	}
	return out, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
