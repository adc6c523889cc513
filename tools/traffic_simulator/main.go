package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
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

	"github.com/patrickwarner/addelivery/internal/config"
	"github.com/patrickwarner/addelivery/internal/db"
	"github.com/patrickwarner/addelivery/internal/observability"
	"github.com/patrickwarner/addelivery/internal/token"
)

var (
	server         string
	users          int
	bannerCSV      string
	audioCSV       string
	audioShare     float64
	totalReq       int
	conc           int
	duration       time.Duration
	rate           float64
	clickRate      float64
	completionRate float64
	stats          bool
	flush          bool
	redisAddr      string
	debug          bool
	label          string
	signTokens     bool
	jitter         float64
)

var logger *zap.Logger

var httpClient *http.Client

var (
	bannerPlacements []string
	audioPlacements  []string
	userAgents       = []string{
		// Mobile
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 12; Pixel 6 Pro) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.5735.196 Mobile Safari/537.36",
		"Mozilla/5.0 (iPad; CPU OS 15_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.2 Mobile/15E148 Safari/604.1",

		// Desktop
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_3_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:111.0) Gecko/20100101 Firefox/111.0",
	}
	userIPs = []string{
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
	}
)

const statsInterval = 5 * time.Second

var (
	countSent        uint64
	countServed      uint64
	countEmpty       uint64
	countErrors      uint64
	countDuplicates  uint64
	countClicks      uint64
	countCompletions uint64
)

type servedAd struct {
	ID   string `json:"_id"`
	Type string `json:"type"`
}

type eventReply struct {
	ID        string `json:"_id"`
	Duplicate bool   `json:"duplicate"`
}

// session is one simulated listener.
type session struct {
	userID string
	auth   string
	ip     string
	ua     string
}

func main() {
	flag.StringVar(&server, "server", "http://localhost:8787", "ad server base URL")
	flag.IntVar(&users, "users", 100, "number of unique users")
	flag.StringVar(&bannerCSV, "banner-placements", "home,sidebar,discover", "comma-separated banner placements")
	flag.StringVar(&audioCSV, "audio-placements", "pre-roll,mid-roll", "comma-separated audio placements")
	flag.Float64Var(&audioShare, "audio-share", 0.3, "fraction of requests asking for audio ads")
	flag.IntVar(&totalReq, "requests", 1000, "total requests to send")
	flag.IntVar(&conc, "concurrency", 20, "concurrent requests")
	flag.DurationVar(&duration, "duration", 0, "how long to run traffic (0 to disable)")
	flag.Float64Var(&rate, "rate", 0, "requests per second (0 for unlimited)")
	flag.Float64Var(&clickRate, "click-rate", 0.05, "probability of a click per impression")
	flag.Float64Var(&completionRate, "completion-rate", 0.6, "probability an audio impression plays to the end")
	flag.BoolVar(&stats, "stats", false, "print aggregated stats periodically")
	flag.BoolVar(&flush, "flush", false, "flush dedup claims and frequency counters before sending traffic")
	flag.StringVar(&redisAddr, "redis", "", "redis address (defaults to REDIS_ADDR)")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logs")
	flag.StringVar(&label, "label", "", "label to identify this run")
	flag.BoolVar(&signTokens, "tokens", true, "send bearer tokens signed with TOKEN_SECRET instead of userId")
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

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

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
		addr := redisAddr
		if addr == "" {
			addr = cfg.RedisAddr
		}
		ctx := context.Background()
		store, err := db.InitRedis(ctx, addr)
		if err != nil {
			logger.Fatal("redis connect", zap.Error(err))
		}
		n, err := store.FlushOperational(ctx)
		store.Close()
		if err != nil {
			logger.Fatal("flush redis", zap.Error(err))
		}
		logger.Info("redis operational data flushed", zap.String("addr", addr), zap.Int("keys_deleted", n))
	}

	bannerPlacements = splitCSV(bannerCSV)
	audioPlacements = splitCSV(audioCSV)

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var rmu sync.Mutex
	sessions := buildSessions(r, cfg.TokenSecret)

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
			if jitter > 0 {
				jf := max(0.1, 1+(r.Float64()*2-1)*jitter)
				effective = time.Duration(float64(effective) * jf)
			}
			if now := time.Now(); now.Before(next) {
				time.Sleep(next.Sub(now))
			}
			next = next.Add(effective)
		}

		rmu.Lock()
		s := sessions[r.Intn(len(sessions))]
		adType, placement := "BANNER", bannerPlacements[r.Intn(len(bannerPlacements))]
		if r.Float64() < audioShare && len(audioPlacements) > 0 {
			adType, placement = "AUDIO", audioPlacements[r.Intn(len(audioPlacements))]
		}
		roll := r.Float64()
		rmu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			simulate(s, adType, placement, roll)
		}()
	}
	wg.Wait()
	close(done)
	if !stats {
		printStats()
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func buildSessions(r *rand.Rand, secret string) []session {
	out := make([]session, users)
	for i := range out {
		s := session{
			userID: "user" + strconv.Itoa(i),
			ip:     userIPs[r.Intn(len(userIPs))],
			ua:     userAgents[r.Intn(len(userAgents))],
		}
		if signTokens && secret != "" {
			tok, err := token.Generate(s.userID, time.Now(), []byte(secret))
			if err != nil {
				logger.Fatal("sign token", zap.Error(err))
			}
			s.auth = "Bearer " + tok
		}
		out[i] = s
	}
	return out
}

// simulate runs one select, render, interact cycle. roll decides the
// click and completion outcome.
func simulate(s session, adType, placement string, roll float64) {
	atomic.AddUint64(&countSent, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	q := url.Values{"type": {adType}, "placement": {placement}, "limit": {"1"}}
	if s.auth == "" {
		q.Set("userId", s.userID)
	}
	var ads []servedAd
	if err := call(ctx, s, http.MethodGet, "/ads?"+q.Encode(), nil, &ads); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("select ads", zap.Error(err))
		return
	}
	if len(ads) == 0 {
		atomic.AddUint64(&countEmpty, 1)
		logger.Debug("no ad", zap.String("type", adType), zap.String("placement", placement))
		return
	}
	ad := ads[0]

	var imp eventReply
	body := map[string]any{
		"adId":       ad.ID,
		"adType":     ad.Type,
		"placement":  placement,
		"deviceInfo": map[string]any{"sdk": "traffic-simulator", "run": label},
	}
	if err := call(ctx, s, http.MethodPost, "/ads/impression", body, &imp); err != nil {
		atomic.AddUint64(&countErrors, 1)
		logger.Error("record impression", zap.Error(err))
		return
	}
	atomic.AddUint64(&countServed, 1)
	if imp.Duplicate {
		atomic.AddUint64(&countDuplicates, 1)
	}

	if roll < clickRate {
		click := map[string]any{"adId": ad.ID, "adType": ad.Type, "impressionId": imp.ID}
		if err := call(ctx, s, http.MethodPost, "/ads/click", click, nil); err != nil {
			atomic.AddUint64(&countErrors, 1)
			logger.Error("record click", zap.Error(err))
			return
		}
		atomic.AddUint64(&countClicks, 1)
	}
	if ad.Type == "AUDIO" && roll < completionRate {
		comp := map[string]any{"adId": ad.ID, "adType": ad.Type, "impressionId": imp.ID, "placement": placement}
		if err := call(ctx, s, http.MethodPost, "/ads/completion", comp, nil); err != nil {
			atomic.AddUint64(&countErrors, 1)
			logger.Error("record completion", zap.Error(err))
			return
		}
		atomic.AddUint64(&countCompletions, 1)
	}
	logger.Debug("cycle", zap.String("user", s.userID), zap.String("ad_id", ad.ID), zap.String("placement", placement))
}

func call(ctx context.Context, s session, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		blob, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		reader = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(server, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", s.ua)
	// Only believed when the server lists this host in TRUSTED_PROXIES.
	req.Header.Set("X-Forwarded-For", s.ip)
	if s.auth != "" {
		req.Header.Set("Authorization", s.auth)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func printStats() {
	sent := atomic.LoadUint64(&countSent)
	served := atomic.LoadUint64(&countServed)
	clk := atomic.LoadUint64(&countClicks)
	var ctr float64
	if served > 0 {
		ctr = float64(clk) / float64(served)
	}
	logger.Info("stats",
		zap.String("run", label),
		zap.Uint64("sent", sent),
		zap.Uint64("served", served),
		zap.Uint64("empty", atomic.LoadUint64(&countEmpty)),
		zap.Uint64("duplicates", atomic.LoadUint64(&countDuplicates)),
		zap.Uint64("errors", atomic.LoadUint64(&countErrors)),
		zap.Uint64("clicks", clk),
		zap.Uint64("completions", atomic.LoadUint64(&countCompletions)),
		zap.Float64("ctr", ctr))
}
