// ABOUTME: Personal agent CLI - manages the owner's preference profile and
// ABOUTME: sends collaboration requests to the gateway on their behalf.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/concord-agents/concord-gateway/internal/client"
	"github.com/concord-agents/concord-gateway/internal/gateway"
	"github.com/concord-agents/concord-gateway/internal/profile"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: concord-agent <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  ask <message>            Send a message to your agent")
		fmt.Println("  profile show             Print your stored profile")
		fmt.Println("  profile set <file.yaml>  Upload a profile from a YAML file")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  CONCORD_GATEWAY   gateway base URL (default http://localhost:8080)")
		fmt.Println("  CONCORD_IDENTITY  your identity (required)")
		fmt.Println("  CONCORD_TOKEN     bearer token, if the gateway requires auth")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "ask":
		err = runAsk(ctx, os.Args[2:])
	case "profile":
		err = runProfile(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newClient() (*client.Client, string, error) {
	identity := os.Getenv("CONCORD_IDENTITY")
	if identity == "" {
		return nil, "", fmt.Errorf("CONCORD_IDENTITY is not set")
	}

	gatewayURL := os.Getenv("CONCORD_GATEWAY")
	if gatewayURL == "" {
		gatewayURL = "http://localhost:8080"
	}

	return client.New(gatewayURL, os.Getenv("CONCORD_TOKEN")), identity, nil
}

func runAsk(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: concord-agent ask <message>")
	}
	text := strings.Join(args, " ")

	c, identity, err := newClient()
	if err != nil {
		return err
	}

	resp, err := c.Handle(ctx, &gateway.HandleRequest{
		MessageID: uuid.New().String(),
		From:      identity,
		Text:      text,
	})
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	switch resp.Kind {
	case "recommendation":
		color.New(color.FgGreen).Print("  ✓ ")
	case "clarification":
		color.New(color.FgYellow).Print("  ? ")
	default:
		color.New(color.FgRed).Print("  ✗ ")
	}
	fmt.Println(resp.Text)

	if resp.Reason != "" {
		color.New(color.FgHiBlack).Printf("    (%s)\n", resp.Reason)
	}
	return nil
}

func runProfile(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: concord-agent profile <show|set>")
	}

	c, identity, err := newClient()
	if err != nil {
		return err
	}

	switch args[0] {
	case "show":
		p, err := c.GetProfile(ctx, identity)
		if errors.Is(err, client.ErrNotFound) {
			fmt.Printf("no profile stored for %s\n", identity)
			return nil
		}
		if err != nil {
			return fmt.Errorf("fetching profile: %w", err)
		}
		printProfile(p)
		return nil

	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: concord-agent profile set <file.yaml>")
		}
		p, err := loadProfileFile(args[1], identity)
		if err != nil {
			return err
		}
		if err := c.PutProfile(ctx, p); err != nil {
			return fmt.Errorf("uploading profile: %w", err)
		}
		color.New(color.FgGreen).Printf("  ✓ Profile updated for %s\n", identity)
		return nil

	default:
		return fmt.Errorf("unknown profile subcommand: %s", args[0])
	}
}

// profileFile is the YAML shape users edit on disk. Times are RFC 3339
// strings and travel bounds are duration strings like "45m".
type profileFile struct {
	Cuisines            []string `yaml:"cuisines"`
	DietaryRestrictions []string `yaml:"dietary_restrictions"`
	Budget              string   `yaml:"budget_level"`
	Atmosphere          []string `yaml:"atmosphere"`
	TimeWindow          struct {
		Earliest string `yaml:"earliest"`
		Latest   string `yaml:"latest"`
	} `yaml:"time_window"`
	Location struct {
		Lat       float64 `yaml:"lat"`
		Lng       float64 `yaml:"lng"`
		MaxTravel string  `yaml:"max_travel"`
	} `yaml:"location"`
}

func loadProfileFile(path string, identity string) (*profile.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile file: %w", err)
	}

	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing profile file: %w", err)
	}

	p := &profile.Profile{
		Identity:            profile.Identity(identity),
		Cuisines:            pf.Cuisines,
		DietaryRestrictions: pf.DietaryRestrictions,
		Budget:              profile.Budget(pf.Budget),
		Atmosphere:          pf.Atmosphere,
	}

	if pf.TimeWindow.Earliest != "" || pf.TimeWindow.Latest != "" {
		earliest, err := time.Parse(time.RFC3339, pf.TimeWindow.Earliest)
		if err != nil {
			return nil, fmt.Errorf("parsing time_window.earliest: %w", err)
		}
		latest, err := time.Parse(time.RFC3339, pf.TimeWindow.Latest)
		if err != nil {
			return nil, fmt.Errorf("parsing time_window.latest: %w", err)
		}
		p.Window = profile.TimeWindow{Earliest: earliest, Latest: latest}
	}

	if pf.Location.Lat != 0 || pf.Location.Lng != 0 {
		p.Location = profile.Location{Lat: pf.Location.Lat, Lng: pf.Location.Lng}
		if pf.Location.MaxTravel != "" {
			d, err := time.ParseDuration(pf.Location.MaxTravel)
			if err != nil {
				return nil, fmt.Errorf("parsing location.max_travel: %w", err)
			}
			p.Location.MaxTravel = d
		}
	}

	return p, nil
}

func printProfile(p *profile.Profile) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cyan.Printf("  %s\n", p.Identity)
	if len(p.Cuisines) > 0 {
		fmt.Printf("  Cuisines:   %s\n", strings.Join(p.Cuisines, ", "))
	}
	if len(p.DietaryRestrictions) > 0 {
		fmt.Printf("  Dietary:    %s\n", strings.Join(p.DietaryRestrictions, ", "))
	}
	fmt.Printf("  Budget:     %s\n", p.Budget)
	if len(p.Atmosphere) > 0 {
		fmt.Printf("  Atmosphere: %s\n", strings.Join(p.Atmosphere, ", "))
	}
	if !p.Window.IsZero() {
		fmt.Printf("  Window:     %s to %s\n",
			p.Window.Earliest.Format(time.RFC3339), p.Window.Latest.Format(time.RFC3339))
	}
	if !p.Location.IsZero() {
		fmt.Printf("  Location:   %.4f, %.4f", p.Location.Lat, p.Location.Lng)
		if p.Location.MaxTravel > 0 {
			fmt.Printf(" (max travel %s)", p.Location.MaxTravel)
		}
		fmt.Println()
	}
	if !p.UpdatedAt.IsZero() {
		gray.Printf("  updated %s\n", p.UpdatedAt.Format(time.RFC3339))
	}
}
