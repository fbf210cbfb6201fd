// main.go - Traffic generator for sitepulse
//
// Simulates concurrent visitors against a running collector: each visitor is
// one tracker.Driver that lands on a page, dwells, clicks, scrolls and
// navigates before leaving. Useful for exercising the ingestion path and
// watching the live dashboard move.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"sitepulse/internal/fingerprint"
	"sitepulse/internal/tracker"
)

type loadConfig struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	minDwell    time.Duration
	maxDwell    time.Duration
	logFile     string
}

var (
	sessionsStarted int64
	pagesVisited    int64
)

func main() {
	cfg := parseFlags()

	// Structured progress log, rotated so long soak runs do not fill the disk.
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(&lumberjack.Logger{
		Filename:   cfg.logFile,
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     7, // days
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	go func() {
		sig := <-sigChan
		fmt.Printf("Received signal %v, shutting down...\n", sig)
		cancel()
	}()

	fmt.Println("=== sitepulse traffic generator ===")
	fmt.Printf("  Target (-url):        %s\n", cfg.baseURL)
	fmt.Printf("  Visitors (-c):        %d concurrent\n", cfg.concurrency)
	fmt.Printf("  Duration (-d):        %v\n", cfg.duration)
	fmt.Printf("  Dwell range:          %v - %v per page\n", cfg.minDwell, cfg.maxDwell)
	fmt.Printf("  Log file:             %s\n", cfg.logFile)

	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < cfg.concurrency; i++ {
		wg.Add(1)
		go func(visitorID int) {
			defer wg.Done()
			runVisitor(ctx, cfg, logger, visitorID)
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start).Round(time.Second)
	fmt.Printf("\nDone in %v: %d sessions, %d page views\n",
		elapsed, atomic.LoadInt64(&sessionsStarted), atomic.LoadInt64(&pagesVisited))
}

func parseFlags() loadConfig {
	baseURL := flag.String("url", "http://localhost:3000", "Base URL of the collector")
	concurrency := flag.Int("c", 10, "Number of concurrent visitors")
	duration := flag.Duration("d", 60*time.Second, "How long to generate traffic")
	minDwell := flag.Duration("min-dwell", 3*time.Second, "Minimum time on a page")
	maxDwell := flag.Duration("max-dwell", 15*time.Second, "Maximum time on a page")
	logFile := flag.String("log", "loadgen.log", "Progress log file")
	flag.Parse()

	return loadConfig{
		baseURL:     *baseURL,
		concurrency: *concurrency,
		duration:    *duration,
		minDwell:    *minDwell,
		maxDwell:    *maxDwell,
		logFile:     *logFile,
	}
}

// runVisitor loops full visits until the context expires. Each visit is a
// fresh driver, so each produces a distinct session; the fingerprint persists
// across a visitor's visits the way a real returning browser would.
func runVisitor(ctx context.Context, cfg loadConfig, logger *logrus.Logger, visitorID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(visitorID)))
	probes := randomProbes(rng)
	sender := tracker.NewHTTPSender(cfg.baseURL, slog.New(slog.DiscardHandler))

	for ctx.Err() == nil {
		runVisit(ctx, cfg, logger, rng, sender, probes, visitorID)
	}
}

func runVisit(ctx context.Context, cfg loadConfig, logger *logrus.Logger, rng *rand.Rand, sender tracker.Sender, probes fingerprint.Probes, visitorID int) {
	landing := randomPage(rng)
	driver := tracker.NewDriver(tracker.Config{
		Sender:    sender,
		Logger:    slog.New(slog.DiscardHandler),
		UserAgent: randomUserAgent(rng),
		Probes:    probes,
		Referrer:  randomReferrer(rng),
	}, cfg.baseURL+landing, pageTitle(landing))
	defer driver.Close()

	atomic.AddInt64(&sessionsStarted, 1)
	atomic.AddInt64(&pagesVisited, 1)

	logger.WithFields(logrus.Fields{
		"visitor":    visitorID,
		"session_id": driver.SessionID(),
		"landing":    landing,
	}).Info("visit started")

	pages := 1 + rng.Intn(5)
	for i := 0; i < pages; i++ {
		if !dwell(ctx, cfg, rng, driver) {
			return
		}

		next := randomPage(rng)
		driver.Navigate(cfg.baseURL+next, pageTitle(next))
		atomic.AddInt64(&pagesVisited, 1)
	}

	dwell(ctx, cfg, rng, driver)
}

// dwell waits a random page-reading time while producing activity. Returns
// false when the context expired mid-dwell.
func dwell(ctx context.Context, cfg loadConfig, rng *rand.Rand, driver *tracker.Driver) bool {
	span := cfg.maxDwell - cfg.minDwell
	wait := cfg.minDwell
	if span > 0 {
		wait += time.Duration(rng.Int63n(int64(span)))
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	activity := time.NewTicker(time.Second)
	defer activity.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return true
		case <-activity.C:
			if rng.Float64() < 0.4 {
				driver.RecordClick()
			}
			driver.RecordMovement()
			driver.RecordScroll(rng.Intn(101))
		}
	}
}

func randomPage(rng *rand.Rand) string {
	paths := []string{
		"/",
		"/products",
		"/services",
		"/about",
		"/contact",
		"/blog",
		"/pricing",
		"/faq",
	}
	return paths[rng.Intn(len(paths))]
}

func pageTitle(path string) string {
	if path == "/" {
		return "Home"
	}
	return path[1:]
}

func randomReferrer(rng *rand.Rand) string {
	// 30% direct traffic.
	if rng.Float64() < 0.3 {
		return ""
	}
	referrers := []string{
		"https://google.com",
		"https://facebook.com",
		"https://twitter.com",
		"https://linkedin.com",
		"https://bing.com",
		"https://news.ycombinator.com",
	}
	return referrers[rng.Intn(len(referrers))]
}

func randomUserAgent(rng *rand.Rand) string {
	userAgents := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 14; SM-S918B) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	}
	return userAgents[rng.Intn(len(userAgents))]
}

func randomProbes(rng *rand.Rand) fingerprint.Probes {
	resolutions := [][2]int{{1920, 1080}, {2560, 1440}, {1440, 900}, {390, 844}, {768, 1024}}
	res := resolutions[rng.Intn(len(resolutions))]
	timezones := []string{"Europe/Madrid", "America/New_York", "Asia/Tokyo", "Europe/Berlin", "UTC"}
	locales := []string{"en-US", "es-ES", "de-DE", "ja-JP", "fr-FR"}

	return fingerprint.Probes{
		ScreenWidth:       res[0],
		ScreenHeight:      res[1],
		ColorDepth:        24,
		Locale:            locales[rng.Intn(len(locales))],
		Timezone:          timezones[rng.Intn(len(timezones))],
		Platform:          "Linux x86_64",
		HasLocalStorage:   true,
		HasSessionStorage: true,
		HasIndexedDB:      rng.Float64() < 0.9,
		HasTouch:          rng.Float64() < 0.3,
		CanvasRaster:      []byte{byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(256))},
		AudioProbe:        fmt.Sprintf("%.6f", rng.Float64()),
	}
}
