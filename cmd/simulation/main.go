package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// The simulation drives a running server over HTTP, acting in turn as the
// admin, a creator, the allow-listed filler, and the trading venues of a
// route. The server must be started with
// FILLERS=filler-1,venue-1,venue-2,trader-1 so every simulated identity can
// authenticate.
const (
	minOrders     = 10
	maxOrders     = 40
	serverAddress = "http://localhost:8080"

	adminID   = "admin"
	traderID  = "trader-1"
	fillerID  = "filler-1"
	venueAID  = "venue-1"
	venueBID  = "venue-2"
	tokenFrom = "TOKA"
	tokenTo   = "TOKB"
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes min, max, mean, median, p95 and p99 durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the exchange API,
// holding one JWT per simulated identity.
type simulationClient struct {
	baseURL string
	client  *http.Client
	tokens  map[string]string
	stats   map[string]*routeStats
}

func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		tokens:  make(map[string]string),
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"create":   {name: "Create Order"},
			"fill":     {name: "Fill Order"},
			"cancel":   {name: "Cancel Order"},
			"route":    {name: "Route Step"},
			"query":    {name: "Queries"},
			"register": {name: "Register Asset"},
		},
	}

	for _, id := range []string{adminID, traderID, fillerID, venueAID, venueBID} {
		if err := sc.authenticate(id); err != nil {
			return nil, fmt.Errorf("authenticating %s: %w", id, err)
		}
	}
	return sc, nil
}

func (sc *simulationClient) authenticate(identity string) error {
	body := map[string]string{"api_key": identity, "api_secret": identity + "-secret"}
	var out struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := sc.post("auth", "", "/api/v1/auth/token", body, &out); err != nil {
		return err
	}
	sc.tokens[identity] = out.Data.Token
	return nil
}

func (sc *simulationClient) post(stat, identity, path string, body interface{}, out interface{}) error {
	return sc.do(stat, identity, http.MethodPost, path, body, out)
}

func (sc *simulationClient) get(stat, identity, path string, out interface{}) error {
	return sc.do(stat, identity, http.MethodGet, path, nil, out)
}

func (sc *simulationClient) do(stat, identity, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set("Authorization", "Bearer "+sc.tokens[identity])
	}

	start := time.Now()
	resp, err := sc.client.Do(req)
	sc.stats[stat].addDuration(time.Since(start))
	if err != nil {
		sc.stats[stat].failures++
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		sc.stats[stat].failures++
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(raw))
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func (sc *simulationClient) registerAssets() error {
	for _, asset := range []string{tokenFrom, tokenTo, "LOYAL"} {
		body := map[string]string{"asset_id": asset, "contract_ref": "sim-" + asset}
		if err := sc.post("register", adminID, "/api/v1/internal/assets", body, nil); err != nil {
			return err
		}
	}
	return nil
}

type orderData struct {
	Data struct {
		Position    uint64 `json:"position"`
		NetToAmount uint64 `json:"net_to_amount"`
	} `json:"data"`
}

func (sc *simulationClient) createOrders(count int) []orderData {
	var created []orderData
	for i := 0; i < count; i++ {
		body := map[string]interface{}{
			"from_token":          tokenFrom,
			"from_amount":         uint64(1000 + rand.Intn(9000)),
			"to_token":            tokenTo,
			"to_amount_requested": uint64(1000 + rand.Intn(9000)),
			"loyalty_proof":       "sim-proof",
		}
		var out orderData
		if err := sc.post("create", traderID, "/api/v1/orders", body, &out); err != nil {
			log.Error().Err(err).Msg("create order failed")
			continue
		}
		created = append(created, out)
	}
	return created
}

func (sc *simulationClient) fillSome(created []orderData) {
	for i, order := range created {
		if i%3 == 2 {
			continue // leave every third order resting for cancels
		}
		amount := order.Data.NetToAmount
		if i%3 == 1 {
			amount = amount / 2 // partial fill
		}
		if amount == 0 {
			continue
		}
		body := map[string]interface{}{
			"incoming_amount": amount,
			"filling_token":   tokenTo,
		}
		// With a single creator on a fresh database the creator and book
		// positions coincide.
		path := fmt.Sprintf("/api/v1/internal/fills/%d", order.Data.Position)
		if err := sc.post("fill", fillerID, path, body, nil); err != nil {
			log.Error().Err(err).Msg("fill order failed")
		}
	}
}

func (sc *simulationClient) cancelSome(created []orderData) {
	for i, order := range created {
		if i%3 != 2 {
			continue
		}
		body := map[string]string{"expected_from_token": tokenFrom}
		path := fmt.Sprintf("/api/v1/orders/%d/cancel", order.Data.Position)
		if err := sc.post("cancel", traderID, path, body, nil); err != nil {
			log.Error().Err(err).Msg("cancel order failed")
		}
	}
}

// runRoute drives one 2-hop route by hand: begin as the filler, then play
// both venues' callbacks. The scheduled finalize is delivered by the
// server's own dispatcher.
func (sc *simulationClient) runRoute() error {
	borrow := uint64(5000)
	body := map[string]interface{}{
		"borrow_amount": borrow,
		"hops": []map[string]interface{}{
			{"from_token": tokenFrom, "trading_venue": venueAID},
			{"from_token": tokenTo, "trading_venue": venueBID},
		},
	}
	var out struct {
		Data struct {
			RouteID string `json:"route_id"`
		} `json:"data"`
	}
	if err := sc.post("route", fillerID, "/api/v1/internal/routes", body, &out); err != nil {
		return err
	}
	routeID := out.Data.RouteID

	// Venue A swapped TOKA into TOKB and sent it back.
	cb1 := map[string]interface{}{"received_token": tokenTo, "received_amount": borrow + 200}
	if err := sc.post("route", venueAID, "/api/v1/internal/routes/"+routeID+"/callback", cb1, nil); err != nil {
		return err
	}

	// Venue B swapped back into the borrow token with a small profit.
	cb2 := map[string]interface{}{"received_token": tokenFrom, "received_amount": borrow + 120}
	if err := sc.post("route", venueBID, "/api/v1/internal/routes/"+routeID+"/callback", cb2, nil); err != nil {
		return err
	}

	log.Info().Str("route_id", routeID).Msg("route completed, awaiting dispatcher finalize")
	return nil
}

func (sc *simulationClient) queryState() {
	var orders json.RawMessage
	if err := sc.get("query", traderID, "/api/v1/orders?page=0&page_size=10", &orders); err != nil {
		log.Error().Err(err).Msg("list orders failed")
	}
	var activity json.RawMessage
	if err := sc.get("query", adminID, "/api/v1/activity?kind=fill", &activity); err != nil {
		log.Error().Err(err).Msg("list activity failed")
	}
	var routes json.RawMessage
	if err := sc.get("query", adminID, "/api/v1/internal/routes", &routes); err != nil {
		log.Error().Err(err).Msg("list routes failed")
	}
}

func (sc *simulationClient) printStats() {
	for _, rs := range sc.stats {
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := rs.calculate()
		log.Info().
			Str("endpoint", rs.name).
			Int("calls", rs.totalCalls).
			Int("failures", rs.failures).
			Dur("min", min).
			Dur("max", max).
			Dur("mean", mean).
			Dur("median", median).
			Dur("p95", p95).
			Dur("p99", p99).
			Msg("endpoint statistics")
	}
}

func main() {
	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize simulation client")
	}

	if err := sc.registerAssets(); err != nil {
		log.Fatal().Err(err).Msg("failed to register assets")
	}

	count := minOrders + rand.Intn(maxOrders-minOrders)
	log.Info().Int("orders", count).Msg("starting simulation")

	created := sc.createOrders(count)
	sc.fillSome(created)
	sc.cancelSome(created)

	if err := sc.runRoute(); err != nil {
		log.Error().Err(err).Msg("route simulation failed")
	}

	sc.queryState()
	sc.printStats()
}
