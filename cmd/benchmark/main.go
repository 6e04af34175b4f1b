// Benchmark tool for measuring Harrier against synthetic labelled traffic.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -n 10000
//
// This tool:
//  1. Generates transactions with a known fraud label
//  2. Sends them to /detection/realtime or /detection/batch
//  3. Reports the ground truth to /detection/report
//  4. Prints the local confusion matrix next to /analytics/confusion
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/quality"
)

// Sample is a generated transaction with its ground-truth label.
type Sample struct {
	Tx      domain.Transaction
	IsFraud bool
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

var (
	channels = []string{"web", "mobile", "pos", "atm"}
	modes    = []string{"card", "upi", "netbanking", "wallet"}
	banks    = []string{"HDFC", "ICICI", "SBI", "AXIS", "KOTAK"}
	devices  = []string{"iphone", "android", "windows", "macos", "linux"}
	browsers = []string{"chrome", "firefox", "safari", "edge"}
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Harrier base URL")
	count := flag.Int("n", 10000, "Number of transactions to generate")
	fraudRate := flag.Float64("fraud-rate", 0.05, "Share of generated transactions that are fraud (0.0-1.0)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	batchSize := flag.Int("batch", 0, "Send batches of this size instead of single requests (0 = realtime)")
	payees := flag.Int("payees", 50, "Number of distinct payees")
	seed := flag.Int64("seed", 42, "Random seed (0 = random)")
	skipReports := flag.Bool("no-reports", false, "Do not submit fraud reports")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	fmt.Println("HARRIER BENCHMARK - Synthetic Fraud Detection")
	fmt.Printf("\nHarrier URL: %s\n", *baseURL)
	fmt.Printf("Count:       %d\n", *count)
	fmt.Printf("Fraud Rate:  %.2f\n", *fraudRate)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Harrier not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Harrier is running:")
		fmt.Println("  go run ./cmd/harrier serve")
		os.Exit(1)
	}
	fmt.Println("Harrier is healthy")

	gofakeit.Seed(*seed)
	samples := generate(*count, *fraudRate, *payees)
	fraudCount := 0
	for _, s := range samples {
		if s.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("Generated %d transactions (%d fraud)\n", len(samples), fraudCount)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	client := &http.Client{Timeout: 30 * time.Second}
	startTime := time.Now()
	metrics := runBenchmark(client, samples, *baseURL, *workers, *batchSize, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)

	if *skipReports {
		return
	}
	fmt.Println("Submitting fraud reports...")
	failed := submitReports(client, samples, *baseURL, *workers)
	if failed > 0 {
		fmt.Printf("WARNING: %d reports were not acknowledged\n", failed)
	}

	confusion, err := fetchConfusion(client, *baseURL)
	if err != nil {
		fmt.Printf("ERROR: failed to fetch server metrics: %v\n", err)
		os.Exit(1)
	}
	printServerConfusion(confusion)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// generate builds labelled samples. Fraud follows the patterns the seed
// rules look for, with some noise so neither precision nor recall is perfect.
func generate(n int, fraudRate float64, payees int) []Sample {
	payeeIDs := make([]string, max(payees, 1))
	for i := range payeeIDs {
		payeeIDs[i] = fmt.Sprintf("MER-%04d", gofakeit.Number(1, 9999))
	}

	end := time.Now().UTC()
	start := end.AddDate(0, -3, 0)

	samples := make([]Sample, n)
	for i := range samples {
		fraud := gofakeit.Float64Range(0, 1) < fraudRate
		amount := gofakeit.Float64Range(5, 5000)
		device := gofakeit.RandomString(devices)
		browser := gofakeit.RandomString(browsers)

		switch {
		case fraud && gofakeit.Bool():
			amount = gofakeit.Float64Range(10001, 75000)
		case fraud && gofakeit.Float64Range(0, 1) < 0.7:
			device = "unknown-" + device
			browser = "outdated-" + browser
		case !fraud && gofakeit.Float64Range(0, 1) < 0.01:
			// Legitimate large purchase.
			amount = gofakeit.Float64Range(10001, 20000)
		}

		samples[i] = Sample{
			IsFraud: fraud,
			Tx: domain.Transaction{
				ID:          gofakeit.UUID(),
				Date:        gofakeit.DateRange(start, end).Format(time.RFC3339),
				Amount:      decimal.NewNullDecimal(decimal.NewFromFloat(amount).Round(2)),
				Channel:     gofakeit.RandomString(channels),
				PaymentMode: gofakeit.RandomString(modes),
				GatewayBank: gofakeit.RandomString(banks),
				PayerEmail:  gofakeit.Email(),
				PayerMobile: gofakeit.Phone(),
				CardBrand:   gofakeit.CreditCardType(),
				PayerDevice: device,
				Browser:     browser,
				PayeeID:     gofakeit.RandomString(payeeIDs),
			},
		}
	}
	return samples
}

func runBenchmark(client *http.Client, samples []Sample, baseURL string, numWorkers, batchSize int, verbose bool) *Metrics {
	metrics := &Metrics{}

	chunk := max(batchSize, 1)
	work := make(chan []Sample, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range work {
				start := time.Now()
				results, err := detect(client, baseURL, group, batchSize > 0)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())

				for _, s := range group {
					atomic.AddInt64(&metrics.TotalProcessed, 1)
					result, ok := results[s.Tx.ID]
					if err != nil || !ok {
						atomic.AddInt64(&metrics.TotalErrors, 1)
						if verbose {
							fmt.Printf("ERROR: %s -> %v\n", s.Tx.ID, err)
						}
						continue
					}
					record(metrics, s, result, verbose)
				}
			}
		}()
	}

	for i := 0; i < len(samples); i += chunk {
		work <- samples[i:min(i+chunk, len(samples))]
	}
	close(work)
	wg.Wait()

	return metrics
}

func record(m *Metrics, s Sample, result *domain.DetectionResult, verbose bool) {
	if s.IsFraud {
		atomic.AddInt64(&m.TotalFraud, 1)
	} else {
		atomic.AddInt64(&m.TotalNonFraud, 1)
	}

	predicted := result.IsFraud
	switch {
	case predicted && s.IsFraud:
		atomic.AddInt64(&m.TruePositives, 1)
	case predicted:
		atomic.AddInt64(&m.FalsePositives, 1)
	case s.IsFraud:
		atomic.AddInt64(&m.FalseNegatives, 1)
	default:
		atomic.AddInt64(&m.TrueNegatives, 1)
	}

	if verbose {
		status := "ok "
		if predicted != s.IsFraud {
			status = "MISS"
		}
		fmt.Printf("%s %s | %-6s | %10s | fraud: %-5v | harrier: %-5v (%.2f) %s\n",
			status, s.Tx.ID[:8], s.Tx.Channel, s.Tx.Amount.Decimal.StringFixed(2),
			s.IsFraud, result.IsFraud, result.FraudScore, result.FraudReason)
	}
}

// detect scores a group and returns the verdicts by transaction id.
func detect(client *http.Client, baseURL string, group []Sample, batch bool) (map[string]*domain.DetectionResult, error) {
	if !batch {
		var result domain.DetectionResult
		if err := postJSON(client, baseURL+"/detection/realtime", group[0].Tx, &result); err != nil {
			return nil, err
		}
		return map[string]*domain.DetectionResult{result.TransactionID: &result}, nil
	}

	txs := make([]domain.Transaction, len(group))
	for i, s := range group {
		txs[i] = s.Tx
	}
	var raw map[string]json.RawMessage
	if err := postJSON(client, baseURL+"/detection/batch", txs, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]*domain.DetectionResult, len(raw))
	for id, body := range raw {
		var probe struct {
			Error *domain.ItemError `json:"error"`
		}
		if json.Unmarshal(body, &probe) == nil && probe.Error != nil {
			continue
		}
		var result domain.DetectionResult
		if err := json.Unmarshal(body, &result); err != nil {
			continue
		}
		out[id] = &result
	}
	return out, nil
}

// submitReports sends a fraud report for every fraud sample and a
// legitimate confirmation for the rest. It returns the number of failures.
func submitReports(client *http.Client, samples []Sample, baseURL string, numWorkers int) int64 {
	var failed int64
	work := make(chan Sample, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range work {
				isFraud := s.IsFraud
				report := domain.FraudReport{
					TransactionID:     s.Tx.ID,
					ReportingEntityID: "benchmark",
					IsFraud:           &isFraud,
				}
				if isFraud {
					report.FraudDetails = gofakeit.Sentence(6)
				}
				var ack domain.Ack
				if err := postJSON(client, baseURL+"/detection/report", report, &ack); err != nil || !ack.Acknowledged {
					atomic.AddInt64(&failed, 1)
				}
			}
		}()
	}

	for _, s := range samples {
		work <- s
	}
	close(work)
	wg.Wait()
	return failed
}

func fetchConfusion(client *http.Client, baseURL string) (*quality.Confusion, error) {
	resp, err := client.Get(baseURL + "/analytics/confusion")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var c quality.Confusion
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func postJSON(client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   fraud       clean")
	fmt.Printf("   Actual  F     %8d    %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF     %8d    %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	recall := ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	accuracy := ratio(m.TruePositives+m.TrueNegatives, total)

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms/tx\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f tx/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}

func printServerConfusion(c *quality.Confusion) {
	fmt.Printf("\nSERVER QUALITY METRICS (/analytics/confusion)\n")
	fmt.Printf("   TP %d  FP %d  FN %d  TN %d  (unreported %d)\n", c.TP, c.FP, c.FN, c.TN, c.Unreported)
	fmt.Printf("   Precision:  %.4f\n", c.Precision)
	fmt.Printf("   Recall:     %.4f\n", c.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", c.F1)
	fmt.Println()
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
