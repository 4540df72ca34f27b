// benchmark drives the sync endpoint with concurrent upload batches. The
// replay workload resubmits identical hashes to measure idempotent update
// throughput; the unique workload measures insert throughput; contend runs
// everything against one user to measure advisory-lock serialization.
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

	"github.com/momscoder/expensesmanager/internal/hash"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	batchSize   int
)

// Metrics
var (
	totalRequests uint64
	successOK     uint64 // Reconciled batches
	fail409       uint64 // Concurrent-sync conflicts
	fail422       uint64 // Rejected batches
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "unique", "Workload type: unique | replay | contend")
	flag.IntVar(&batchSize, "batch", 20, "Receipts per sync batch")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Batch: %d",
		workload, concurrency, duration, batchSize)

	tokens := make([]string, concurrency)
	for i := range tokens {
		// contend: every worker shares one account so all batches hit the
		// same advisory lock.
		accountIdx := i
		if workload == "contend" {
			accountIdx = 0
		}
		token, err := authenticate(accountIdx)
		if err != nil {
			log.Fatalf("Auth for worker %d failed: %v", i, err)
		}
		tokens[i] = token
	}

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, i, tokens[i])
	}

	wg.Wait()
	printResults(time.Since(start))
}

func authenticate(idx int) (string, error) {
	email := fmt.Sprintf("bench-%d@example.com", idx)
	creds := map[string]string{"email": email, "password": "bench-secret"}
	body, _ := json.Marshal(creds)

	client := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/api/login", "/api/register"} {
		resp, err := client.Post(targetURL+path, "application/json", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		var out struct {
			Token string `json:"token"`
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err == nil && out.Token != "" {
			return out.Token, nil
		}
	}
	return "", fmt.Errorf("no token for %s", email)
}

func worker(wg *sync.WaitGroup, start time.Time, id int, token string) {
	defer wg.Done()
	client := &http.Client{Timeout: 10 * time.Second}
	rng := rand.New(rand.NewSource(int64(id)))

	// replay: one fixed batch per worker, resubmitted for the whole run.
	var fixed []byte
	if workload == "replay" {
		fixed, _ = json.Marshal(buildBatch(rng, id, 0))
	}

	iteration := 0
	for time.Since(start) < duration {
		body := fixed
		if body == nil {
			body, _ = json.Marshal(buildBatch(rng, id, iteration))
		}
		iteration++

		req, _ := http.NewRequest("POST", targetURL+"/api/sync", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&successOK, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func buildBatch(rng *rand.Rand, worker, iteration int) map[string]interface{} {
	receipts := make([]map[string]interface{}, 0, batchSize)
	purchases := make([]map[string]interface{}, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		localID := int64(-(i + 1))
		uid := fmt.Sprintf("bench-%d-%d-%d", worker, iteration, i)
		date := time.Now().AddDate(0, 0, -rng.Intn(365)).Format("2006-01-02")
		amount := float64(rng.Intn(5000)+1) / 100

		receipts = append(receipts, map[string]interface{}{
			"localId":     localID,
			"hash":        hash.Receipt(uid, date),
			"uid":         uid,
			"date":        date,
			"totalAmount": amount,
		})
		purchases = append(purchases, map[string]interface{}{
			"receiptId": localID,
			"name":      fmt.Sprintf("item-%d", i),
			"amount":    amount,
		})
	}
	return map[string]interface{}{
		"receipts":   receipts,
		"purchases":  purchases,
		"categories": []interface{}{},
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&successOK)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	bps := float64(total) / d.Seconds()
	rps := bps * float64(batchSize)

	results := map[string]interface{}{
		"workload":         workload,
		"duration_sec":     d.Seconds(),
		"total_batches":    total,
		"batches_per_sec":  bps,
		"receipts_per_sec": rps,
		"success_ok":       ok,
		"conflicts_409":    f409,
		"rejected_422":     f422,
		"errors":           fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
