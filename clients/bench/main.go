package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	Host        string
	BackendKey  string
	FrontendKey string
	Listener    string
	RPS         int
	Duration    time.Duration
	HandleSize  int
	Pattern     string
}

type Metrics struct {
	TotalRequests int64
	SuccessCount  int64
	FailCount     int64
	TotalDuration int64 // in nanoseconds
	MinDuration   int64 // in nanoseconds
	MaxDuration   int64 // in nanoseconds
	Durations     []time.Duration
	mu            sync.Mutex
	StatusCodes   map[int]int
	BytesSent     int64
	StartTime     time.Time
	EndTime       time.Time
}

func (m *Metrics) record(status int, duration time.Duration, bytes int64, success bool) {
	durNs := int64(duration)
	atomic.AddInt64(&m.TotalRequests, 1)
	atomic.AddInt64(&m.TotalDuration, durNs)
	atomic.AddInt64(&m.BytesSent, bytes)
	if success {
		atomic.AddInt64(&m.SuccessCount, 1)
	} else {
		atomic.AddInt64(&m.FailCount, 1)
	}
	// Update min/max
	for {
		min := atomic.LoadInt64(&m.MinDuration)
		if min == 0 || durNs < min {
			if atomic.CompareAndSwapInt64(&m.MinDuration, min, durNs) {
				break
			}
		} else {
			break
		}
	}
	for {
		max := atomic.LoadInt64(&m.MaxDuration)
		if durNs > max {
			if atomic.CompareAndSwapInt64(&m.MaxDuration, max, durNs) {
				break
			}
		} else {
			break
		}
	}
	// Durations and StatusCodes share the mutex
	m.mu.Lock()
	m.Durations = append(m.Durations, duration)
	if m.StatusCodes == nil {
		m.StatusCodes = make(map[int]int)
	}
	m.StatusCodes[status]++
	m.mu.Unlock()
}

func main() {
	auto := flag.Bool("auto", false, "Use default values and only prompt for pattern")
	flag.Parse()

	cfg := Config{
		Host:        "http://localhost:8080",
		BackendKey:  "sk_example",
		FrontendKey: "pk_example",
		Listener:    "listener1",
		RPS:         1000,
		Duration:    time.Minute,
		HandleSize:  64,
	}

	if !*auto {
		cfg = promptConfig()
	} else {
		cfg.Pattern = promptPattern()
	}

	var metrics *Metrics
	if cfg.Pattern == "listener_queries" {
		metrics = runListenerQueriesBenchmark(cfg)
	} else {
		metrics = runSubmitRecordsBenchmark(cfg)
	}
	outputMetrics(metrics)
}

func promptConfig() Config {
	scanner := bufio.NewScanner(os.Stdin)
	cfg := Config{
		Host:        "http://localhost:8080",
		BackendKey:  "sk_example",
		FrontendKey: "pk_example",
		Listener:    "listener1",
		RPS:         1000,
		Duration:    time.Minute,
		HandleSize:  64,
	}

	fmt.Printf("Host endpoint [%s]: ", cfg.Host)
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			cfg.Host = input
		}
	}

	fmt.Printf("Backend API key [%s]: ", cfg.BackendKey)
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			cfg.BackendKey = input
		}
	}

	fmt.Printf("Frontend API key [%s]: ", cfg.FrontendKey)
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			cfg.FrontendKey = input
		}
	}

	fmt.Printf("Listener ID [%s]: ", cfg.Listener)
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			cfg.Listener = input
		}
	}

	fmt.Printf("Requests per second [%d]: ", cfg.RPS)
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			if rps, err := strconv.Atoi(input); err == nil && rps > 0 {
				cfg.RPS = rps
			}
		}
	}

	fmt.Printf("Duration (e.g. 1m, 30s) [%s]: ", cfg.Duration)
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			if dur, err := time.ParseDuration(input); err == nil {
				cfg.Duration = dur
			}
		}
	}

	fmt.Printf("Handle size (bytes) [%d]: ", cfg.HandleSize)
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			if size, err := strconv.Atoi(input); err == nil && size > 0 {
				cfg.HandleSize = size
			}
		}
	}

	fmt.Printf("Pattern (submit_records or listener_queries) [submit_records]: ")
	cfg.Pattern = "submit_records"
	if scanner.Scan() {
		if input := strings.TrimSpace(scanner.Text()); input != "" {
			if input == "submit_records" || input == "listener_queries" {
				cfg.Pattern = input
			}
		}
	}

	return cfg
}

func promptPattern() string {
	fmt.Println("Choose pattern:")
	fmt.Println("1. submit_records")
	fmt.Println("2. listener_queries")
	fmt.Print("Enter 1 or 2: ")

	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "2" {
			return "listener_queries"
		}
	}
	// Default
	return "submit_records"
}

func fetchSignature(cfg Config) string {
	url := cfg.Host + "/v1/_sign"
	payload := fmt.Sprintf(`{"listener":"%s"}`, cfg.Listener)
	req, err := http.NewRequest("POST", url, strings.NewReader(payload))
	if err != nil {
		log.Fatal("Failed to create signature request:", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.BackendKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatal("Failed to fetch signature:", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		log.Fatal("Signature request failed with status:", resp.StatusCode)
	}

	var result struct {
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Fatal("Failed to decode signature response:", err)
	}

	return result.Signature
}

func runSubmitRecordsBenchmark(cfg Config) *Metrics {
	metrics := &Metrics{StartTime: time.Now()}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	currentRPS := cfg.RPS
	ticker := time.NewTicker(time.Second / time.Duration(currentRPS))
	defer ticker.Stop()

	stopPrint := make(chan struct{})
	go printLiveStats(metrics, cfg.Duration, stopPrint)

	for {
		select {
		case <-ctx.Done():
			close(stopPrint)
			metrics.EndTime = time.Now()
			wg.Wait()
			return metrics
		case <-ticker.C:
			// Check failure rate and throttle if needed
			totalReqs := atomic.LoadInt64(&metrics.TotalRequests)
			failCount := atomic.LoadInt64(&metrics.FailCount)
			if totalReqs > 10 && failCount*10 > totalReqs {
				newRPS := currentRPS / 2
				if newRPS > 0 && newRPS != currentRPS {
					currentRPS = newRPS
					ticker.Reset(time.Second / time.Duration(currentRPS))
					fmt.Printf("\nThrottling down to %d RPS due to high failure rate\n", currentRPS)
				}
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				submitRecord(cfg, metrics)
			}()
		}
	}
}

func runListenerQueriesBenchmark(cfg Config) *Metrics {
	signature := fetchSignature(cfg)

	// One synchronous submission up front so bad hosts or keys fail fast
	// instead of burning the whole run on errors.
	submitRecordSync(cfg)

	queryURLs := []string{
		cfg.Host + "/v1/listeners/" + cfg.Listener + "/recommendations?candidates=tech,news,comedy,sports,history",
		cfg.Host + "/v1/listeners/" + cfg.Listener + "/patterns",
		cfg.Host + "/v1/listeners/" + cfg.Listener + "/niche?threshold=2",
		cfg.Host + "/v1/listeners/" + cfg.Listener + "/feed?candidates=tech,news,comedy,sports,history",
	}

	metrics := &Metrics{StartTime: time.Now()}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	currentRPS := cfg.RPS
	ticker := time.NewTicker(time.Second / time.Duration(currentRPS))
	defer ticker.Stop()

	stopPrint := make(chan struct{})
	go printLiveStats(metrics, cfg.Duration, stopPrint)

	n := 0
	for {
		select {
		case <-ctx.Done():
			close(stopPrint)
			metrics.EndTime = time.Now()
			wg.Wait()
			return metrics
		case <-ticker.C:
			// Check failure rate and throttle if needed
			totalReqs := atomic.LoadInt64(&metrics.TotalRequests)
			failCount := atomic.LoadInt64(&metrics.FailCount)
			if totalReqs > 10 && failCount*10 > totalReqs {
				newRPS := currentRPS / 2
				if newRPS > 0 && newRPS != currentRPS {
					currentRPS = newRPS
					ticker.Reset(time.Second / time.Duration(currentRPS))
					fmt.Printf("\nThrottling down to %d RPS due to high failure rate\n", currentRPS)
				}
			}
			url := queryURLs[n%len(queryURLs)]
			n++
			wg.Add(1)
			go func() {
				defer wg.Done()
				runQuery(cfg, signature, url, metrics)
			}()
		}
	}
}

func submitRecord(cfg Config, metrics *Metrics) {
	url := cfg.Host + "/v1/records"
	payload := generateBundle(cfg.HandleSize)

	req, _ := http.NewRequest("POST", url, strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+cfg.FrontendKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.record(0, duration, int64(len(payload)), false)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	success := resp.StatusCode == 200 || resp.StatusCode == 201
	if !success {
		fmt.Printf("Error: status %d, body: %s\n", resp.StatusCode, string(body))
	}
	metrics.record(resp.StatusCode, duration, int64(len(payload)), success)
}

func submitRecordSync(cfg Config) {
	url := cfg.Host + "/v1/records"
	payload := generateBundle(cfg.HandleSize)

	req, _ := http.NewRequest("POST", url, strings.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+cfg.FrontendKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatal("Failed to submit record:", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 && resp.StatusCode != 201 {
		log.Fatal("Record submission failed with status:", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var result struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.ID == 0 {
		log.Fatal("Failed to parse record submission response")
	}
}

func runQuery(cfg Config, signature, url string, metrics *Metrics) {
	req, _ := http.NewRequest("GET", url, nil)
	req.Header.Set("Authorization", "Bearer "+cfg.FrontendKey)
	req.Header.Set("X-Listener-ID", cfg.Listener)
	req.Header.Set("X-Listener-Signature", signature)

	start := time.Now()
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.record(0, duration, 0, false)
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	success := resp.StatusCode == 200
	if !success {
		fmt.Printf("Error: status %d, body: %s\n", resp.StatusCode, string(body))
	}
	metrics.record(resp.StatusCode, duration, 0, success)
}

// generateBundle builds one submission body out of random opaque handles.
// The server never inspects handle contents, so random bytes exercise the
// ingest path the same way real sealed values do.
func generateBundle(handleSize int) string {
	return fmt.Sprintf(`{"category":"%s","minutes":"%s","listener":"%s"}`,
		randomHandle(handleSize), randomHandle(handleSize), randomHandle(handleSize))
}

func randomHandle(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}

func printLiveStats(metrics *Metrics, totalDuration time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	start := metrics.StartTime
	for {
		select {
		case <-stop:
			fmt.Println()
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			remaining := totalDuration - elapsed
			if remaining < 0 {
				remaining = 0
			}
			totalReqs := atomic.LoadInt64(&metrics.TotalRequests)
			if totalReqs == 0 {
				continue
			}
			totalDur := atomic.LoadInt64(&metrics.TotalDuration)
			minDur := atomic.LoadInt64(&metrics.MinDuration)
			maxDur := atomic.LoadInt64(&metrics.MaxDuration)
			rps := float64(totalReqs) / elapsed.Seconds()
			avgResp := time.Duration(totalDur / totalReqs)
			minResp := time.Duration(minDur)
			maxResp := time.Duration(maxDur)
			fmt.Printf("\rRequests: %d | RPS: %.1f | Avg: %v | Min: %v | Max: %v | Remaining: %v", totalReqs, rps, avgResp, minResp, maxResp, remaining.Round(time.Second))
		}
	}
}

func outputMetrics(metrics *Metrics) {
	totalRequests := atomic.LoadInt64(&metrics.TotalRequests)
	if totalRequests == 0 {
		fmt.Println("No requests completed; nothing to report")
		return
	}

	execPath, err := os.Executable()
	if err != nil {
		log.Fatal("Failed to get executable path:", err)
	}
	execDir := filepath.Dir(execPath)
	logsDir := filepath.Join(execDir, "logs")
	os.MkdirAll(logsDir, 0755)

	testID := fmt.Sprintf("bench-%d", time.Now().Unix())
	outFile := filepath.Join(logsDir, testID+".json")

	file, err := os.Create(outFile)
	if err != nil {
		log.Fatal("Failed to create output file:", err)
	}
	defer file.Close()

	// Calculate stats
	totalDur := atomic.LoadInt64(&metrics.TotalDuration)
	minDur := atomic.LoadInt64(&metrics.MinDuration)
	maxDur := atomic.LoadInt64(&metrics.MaxDuration)
	avgDuration := time.Duration(totalDur / totalRequests)
	minDuration := time.Duration(minDur)
	maxDuration := time.Duration(maxDur)

	// Calculate percentiles
	metrics.mu.Lock()
	durations := make([]time.Duration, len(metrics.Durations))
	copy(durations, metrics.Durations)
	statusCodes := make(map[int]int, len(metrics.StatusCodes))
	for code, count := range metrics.StatusCodes {
		statusCodes[code] = count
	}
	metrics.mu.Unlock()
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	n := len(durations)
	p90 := durations[int(float64(n)*0.9)]
	p95 := durations[int(float64(n)*0.95)]
	p99 := durations[int(float64(n)*0.99)]

	result := map[string]interface{}{
		"total_requests":  totalRequests,
		"success_count":   atomic.LoadInt64(&metrics.SuccessCount),
		"fail_count":      atomic.LoadInt64(&metrics.FailCount),
		"avg_duration_ms": avgDuration.Milliseconds(),
		"min_duration_ms": minDuration.Milliseconds(),
		"max_duration_ms": maxDuration.Milliseconds(),
		"p90_duration_ms": p90.Milliseconds(),
		"p95_duration_ms": p95.Milliseconds(),
		"p99_duration_ms": p99.Milliseconds(),
		"status_codes":    statusCodes,
		"bytes_sent":      atomic.LoadInt64(&metrics.BytesSent),
		"start_time":      metrics.StartTime,
		"end_time":        metrics.EndTime,
		"duration":        metrics.EndTime.Sub(metrics.StartTime),
	}

	json.NewEncoder(file).Encode(result)
	fmt.Printf("Output: %s\n", outFile)
}
