package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Drives concurrent chip transfers against one active session and reports the
// outcome mix. With every worker hammering the same balance set, the 422
// (insufficient funds) and conservation behavior under contention become
// visible in the numbers.
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	sessionID   string
	usersFile   string
	amount      int64
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Created
	fail422       uint64 // Rejected (insufficient funds, validation)
	fail409       uint64 // State conflicts
	failOther     uint64
)

type user struct {
	id    string
	token string
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&sessionID, "session", "", "Active session id to transfer within")
	flag.StringVar(&usersFile, "users", "users.txt", "File of id:token lines (seeder output)")
	flag.Int64Var(&amount, "amount", 10, "Chips per transfer")
}

func main() {
	flag.Parse()
	if sessionID == "" {
		log.Fatal("missing -session")
	}
	users, err := loadUsers(usersFile)
	if err != nil {
		log.Fatalf("loading users: %v", err)
	}
	if len(users) < 2 {
		log.Fatal("need at least two users")
	}

	log.Printf("Starting Benchmark: session %s | Workers: %d | Duration: %s", sessionID, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, users)
	}
	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time, users []user) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		from, to := pickPair(users)

		payload := map[string]interface{}{
			"session_id":   sessionID,
			"from_user_id": from.id,
			"to_user_id":   to.id,
			"amount":       amount,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+from.token)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickPair(users []user) (user, user) {
	a := rand.Intn(len(users))
	b := rand.Intn(len(users))
	for a == b {
		b = rand.Intn(len(users))
	}
	return users[a], users[b]
}

func loadUsers(path string) ([]user, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var users []user
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, token, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		users = append(users, user{id: id, token: token})
	}
	return users, sc.Err()
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	f422 := atomic.LoadUint64(&fail422)
	f409 := atomic.LoadUint64(&fail409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"session":          sessionID,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_tps":   tps,
		"success_created":  s201,
		"rejected_422":     f422,
		"conflicts_409":    f409,
		"errors":           fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", sessionID)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
