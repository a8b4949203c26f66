package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aminefth/kidsclub-sub001/internal/analytics"
	"github.com/aminefth/kidsclub-sub001/internal/config"
	"github.com/aminefth/kidsclub-sub001/internal/db"
	"github.com/aminefth/kidsclub-sub001/internal/models"
	"github.com/aminefth/kidsclub-sub001/internal/observability"
)

var (
	server          string
	placementCSV    string
	categoryCSV     string
	countryCSV      string
	totalReq        int
	conc            int
	duration        time.Duration
	rate            float64
	clickRate       float64
	stats           bool
	flush           bool
	redisAddr       string
	debug           bool
	label           string
	surgeInterval   time.Duration
	surgeDuration   time.Duration
	surgeMultiplier float64
	jitter          float64
)

var logger *zap.Logger

// HTTP client with proper resource limits
var httpClient *http.Client

var userAgents = []string{
	// Mobile
	"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
	"Mozilla/5.0 (iPad; CPU OS 15_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.2 Mobile/15E148 Safari/604.1",

	// Desktop
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:111.0) Gecko/20100101 Firefox/111.0",
}

const statsInterval = 5 * time.Second

var (
	countSent      uint64
	countFilled    uint64
	countNoFill    uint64
	countErrors    uint64
	countClicks    uint64
	countExhausted uint64
)

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "ad server base URL")
	flag.StringVar(&placementCSV, "placements", "sidebar,feed", "comma-separated placements")
	flag.StringVar(&categoryCSV, "categories", "education,science,stories", "comma-separated page categories")
	flag.StringVar(&countryCSV, "countries", "MA,FR,US", "comma-separated country codes")
	flag.IntVar(&totalReq, "requests", 1000, "total feed requests to send")
	flag.IntVar(&conc, "concurrency", 20, "concurrent requests")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "requests per second (0 for unlimited)")
	flag.Float64Var(&clickRate, "click-rate", 0.05, "probability of a click per impression")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "drop cached sponsored feeds before sending traffic")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.DurationVar(&surgeInterval, "surge-interval", 0, "interval between traffic surges (0 to disable)")
	flag.DurationVar(&surgeDuration, "surge-duration", 0, "duration of each surge window")
	flag.Float64Var(&surgeMultiplier, "surge-multiplier", 2.0, "requests multiplier during surge period")
	flag.Float64Var(&jitter, "jitter", 0.0, "random jitter factor for request spacing")
	flag.Parse()

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	var err error
	logger, err = observability.InitLoggerWithLevel(level, "traffic-simulator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			MaxConnsPerHost:       50,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}

	if flush {
		flushFeeds()
	}

	placements := splitCSV(placementCSV)
	categories := splitCSV(categoryCSV)
	countries := splitCSV(countryCSV)

	var wg sync.WaitGroup
	sem := make(chan struct{}, conc)
	done := make(chan struct{})

	var baseInterval time.Duration
	if rate > 0 {
		baseInterval = time.Duration(float64(time.Second) / rate)
	} else if duration > 0 && totalReq > 0 {
		baseInterval = duration / time.Duration(totalReq)
	}

	start := time.Now()
	next := start

	if stats {
		go func() {
			ticker := time.NewTicker(statsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					printStats()
				case <-done:
					printStats()
					return
				}
			}
		}()
	}
	for i := 0; ; i++ {
		if totalReq > 0 && i >= totalReq {
			break
		}
		if duration > 0 && time.Since(start) >= duration {
			break
		}
		if baseInterval > 0 {
			effective := baseInterval
			if surgeInterval > 0 && surgeDuration > 0 && surgeMultiplier > 0 {
				if time.Since(start)%surgeInterval < surgeDuration {
					effective = time.Duration(float64(effective) / surgeMultiplier)
				}
			}
			if jitter > 0 {
				jf := 1 + (rand.Float64()*2-1)*jitter
				if jf < 0.1 {
					jf = 0.1
				}
				effective = time.Duration(float64(effective) * jf)
			}
			now := time.Now()
			if now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(effective)
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			visit(pick(placements), pick(categories), pick(countries), pick(userAgents))
		}()
	}
	wg.Wait()
	close(done)
	if !stats {
		printStats()
	}
}

// visit simulates one page view: fetch the feed, report an impression for
// each post and sometimes click one.
func visit(placement, category, country, ua string) {
	atomic.AddUint64(&countSent, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	q := url.Values{}
	q.Set("placement", placement)
	q.Set("category", category)
	q.Set("country", country)
	var feed struct {
		Posts []models.SponsoredPost `json:"posts"`
	}
	if _, err := call(ctx, http.MethodGet, "/ads/sponsored?"+q.Encode(), ua, nil, &feed); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("feed request error", zap.Error(err))
		return
	}
	if len(feed.Posts) == 0 {
		atomic.AddUint64(&countNoFill, 1)
		logger.Debug("no fill", zap.String("placement", placement), zap.String("country", country))
		return
	}
	atomic.AddUint64(&countFilled, 1)

	page := models.PageContext{URL: "https://kids.example.com/" + category, Title: category, Category: category}
	for _, p := range feed.Posts {
		sub := analytics.Submission{
			Type:       models.AdTypeSponsored,
			CampaignID: p.ID,
			Placement:  placement,
			Page:       page,
			Country:    country,
		}
		if _, err := call(ctx, http.MethodPost, "/ads/track/impression", ua, sub, nil); err != nil {
			atomic.AddUint64(&countErrors, 1)
			logger.Error("impression error", zap.Error(err))
			return
		}
		if rand.Float64() >= clickRate {
			continue
		}
		var resp struct {
			Message string `json:"message"`
		}
		if _, err := call(ctx, http.MethodPost, "/ads/track/click", ua, sub, &resp); err != nil {
			atomic.AddUint64(&countErrors, 1)
			logger.Error("click error", zap.Error(err))
			return
		}
		atomic.AddUint64(&countClicks, 1)
		if strings.Contains(resp.Message, "exhausted") {
			atomic.AddUint64(&countExhausted, 1)
		}
	}
}

func call(ctx context.Context, method, path, ua string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(server, "/")+path, rd)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ua)
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func flushFeeds() {
	addr := redisAddr
	if addr == "" {
		addr = config.Load().RedisAddr
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	store, err := db.InitRedis(ctx, addr)
	if err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}
	defer store.Close()
	if err := store.DeletePrefix(ctx, "sponsored:"); err != nil {
		logger.Fatal("flush sponsored feeds", zap.Error(err))
	}
	logger.Info("cached sponsored feeds flushed", zap.String("addr", addr))
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func pick(from []string) string {
	if len(from) == 0 {
		return ""
	}
	return from[rand.IntN(len(from))]
}

func printStats() {
	sent := atomic.LoadUint64(&countSent)
	filled := atomic.LoadUint64(&countFilled)
	clk := atomic.LoadUint64(&countClicks)
	var fillRate float64
	if sent > 0 {
		fillRate = float64(filled) / float64(sent)
	}
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sent", sent),
		zap.Uint64("filled", filled),
		zap.Uint64("no_fill", atomic.LoadUint64(&countNoFill)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)),
		zap.Uint64("clicks", clk),
		zap.Uint64("exhausted", atomic.LoadUint64(&countExhausted)),
		zap.String("fill_rate", strconv.FormatFloat(fillRate, 'f', 3, 64)))
}
