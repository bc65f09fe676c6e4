// ABOUTME: Minimal fake selector for E2E testing — serves /invoke with canned restaurants.
// ABOUTME: Usage: fake-selector [-addr :9090] [-gateway http://localhost:8080] [-id e2e-fake-selector]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/concord-agents/concord-gateway/internal/client"
	"github.com/concord-agents/concord-gateway/internal/profile"
	"github.com/concord-agents/concord-gateway/internal/selector"
)

var menu = []selector.Candidate{
	{Name: "Trattoria Verde", Address: "123 Main St", Score: 0.92, DietaryTags: []string{"vegetarian", "gluten_free"}, PriceLevel: profile.BudgetMedium},
	{Name: "Sushi Note", Address: "456 Oak Ave", Score: 0.87, DietaryTags: []string{"gluten_free"}, PriceLevel: profile.BudgetHigh},
	{Name: "Basil Leaf", Address: "789 Elm Rd", Score: 0.74, DietaryTags: []string{"vegetarian", "vegan"}, PriceLevel: profile.BudgetLow},
	{Name: "Steakhouse Prime", Address: "12 River Way", Score: 0.68, PriceLevel: profile.BudgetHigh},
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	gatewayURL := flag.String("gateway", "http://localhost:8080", "gateway base URL (empty to skip registration)")
	id := flag.String("id", "e2e-fake-selector", "selector identity")
	endpoint := flag.String("endpoint", "", "advertised endpoint (defaults to http://localhost<addr>)")
	token := flag.String("token", "", "gateway bearer token")
	flag.Parse()

	if err := run(*addr, *gatewayURL, *id, *endpoint, *token); err != nil {
		log.Fatal(err)
	}
}

func run(addr, gatewayURL, id, endpoint, token string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /invoke", handleInvoke)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	if gatewayURL != "" {
		if endpoint == "" {
			endpoint = "http://localhost" + addr
		}
		c := client.New(gatewayURL, token)
		if err := c.Register(ctx, id, endpoint, []string{"restaurant"}); err != nil {
			return fmt.Errorf("registering with gateway: %w", err)
		}
		fmt.Fprintf(os.Stderr, "registered as %s (endpoint: %s)\n", id, endpoint)

		go c.RunHeartbeats(ctx, id, 30*time.Second, func(err error) {
			log.Printf("heartbeat error: %v", err)
		})
		defer func() {
			deregCtx, deregCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer deregCancel()
			if err := c.Deregister(deregCtx, id); err != nil {
				log.Printf("deregister error: %v", err)
			}
		}()
	}

	log.Printf("serving /invoke on %s", addr)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// handleInvoke filters the canned menu against the posted constraints and
// returns whatever passes, in score order.
func handleInvoke(w http.ResponseWriter, r *http.Request) {
	var constraints selector.Constraints
	if err := json.NewDecoder(r.Body).Decode(&constraints); err != nil {
		http.Error(w, fmt.Sprintf("decoding constraints: %v", err), http.StatusBadRequest)
		return
	}

	merged, err := constraints.ToMerged()
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid constraints: %v", err), http.StatusBadRequest)
		return
	}

	log.Printf("invoke: cuisines=%v dietary=%v budget=%s",
		constraints.Cuisines, constraints.DietaryRestrictions, constraints.BudgetLevel)

	var candidates []selector.Candidate
	for _, c := range menu {
		if merged.Satisfies(c.DietaryTags, c.PriceLevel) {
			candidates = append(candidates, c)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(selector.Response{Candidates: candidates})
}
