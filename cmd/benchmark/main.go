package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/escrowledger/internal/config"
	"github.com/punchamoorthee/escrowledger/internal/models"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	listings    int
	buyers      int
	price       string
	replayRate  float64
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	fail409       uint64 // Paused or already settled
	fail422       uint64 // Rejected purchases
	failOther     uint64
	confirmed     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&listings, "listings", 100, "Seeded listing count")
	flag.IntVar(&buyers, "buyers", 1000, "Seeded buyer count")
	flag.StringVar(&price, "price", "1000000000000000", "Native unit price of the seeded listings")
	flag.Float64Var(&replayRate, "replay", 0.1, "Fraction of purchases resent with the same Idempotency-Key")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		buyer := config.DemoAccount(rand.Intn(buyers) + 1).Hex()
		payload := models.PurchaseRequest{
			ListingID:     pickListing(),
			Quantity:      1,
			PaymentMethod: "native",
			Value:         price,
		}
		body, _ := json.Marshal(payload)
		key := "bench-" + uuid.NewString()

		status, id := purchase(client, buyer, key, body)
		if status == http.StatusCreated && rand.Float64() < replayRate {
			purchase(client, buyer, key, body)
		}
		if status == http.StatusCreated {
			confirm(client, buyer, id)
		}
	}
}

func purchase(client *http.Client, buyer, key string, body []byte) (int, uint64) {
	req, _ := http.NewRequest("POST", targetURL+"/api/v1/purchases", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	req.Header.Set("X-Account", buyer)

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return 0, 0
	}
	defer resp.Body.Close()

	atomic.AddUint64(&totalRequests, 1)
	switch resp.StatusCode {
	case 201:
		atomic.AddUint64(&success201, 1)
	case 200:
		atomic.AddUint64(&success200, 1)
	case 409:
		atomic.AddUint64(&fail409, 1)
	case 422:
		atomic.AddUint64(&fail422, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}

	var p models.Purchase
	if resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			atomic.AddUint64(&failOther, 1)
			return 0, 0
		}
	}
	return resp.StatusCode, p.ID
}

func confirm(client *http.Client, buyer string, id uint64) {
	req, _ := http.NewRequest("POST", fmt.Sprintf("%s/api/v1/purchases/%d/confirm", targetURL, id), nil)
	req.Header.Set("X-Account", buyer)
	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return
	}
	atomic.AddUint64(&totalRequests, 1)
	if resp.StatusCode == http.StatusOK {
		atomic.AddUint64(&confirmed, 1)
	} else {
		atomic.AddUint64(&failOther, 1)
	}
	resp.Body.Close()
}

func pickListing() uint64 {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to listing 1
		if rand.Float32() < 0.90 {
			return 1
		}
	}
	return uint64(rand.Intn(listings) + 1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)
	conf := atomic.LoadUint64(&confirmed)

	tps := float64(total) / d.Seconds()
	rejectRate := 0.0
	if total > 0 {
		rejectRate = float64(f409+f422) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":            workload,
		"duration_sec":        d.Seconds(),
		"total_requests":      total,
		"throughput_tps":      tps,
		"purchases_created":   s201,
		"purchases_replayed":  s200,
		"purchases_confirmed": conf,
		"rejected_conflict":   f409,
		"rejected_invalid":    f422,
		"reject_rate_pct":     rejectRate,
		"errors":              fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Could not save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
