package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/addelivery/internal/config"
	"github.com/patrickwarner/addelivery/internal/db"
	"github.com/patrickwarner/addelivery/internal/models"
	"github.com/patrickwarner/addelivery/internal/observability"
	"github.com/patrickwarner/addelivery/internal/placement"
	"github.com/patrickwarner/addelivery/internal/token"
)

var (
	campaigns  = flag.Int("campaigns", 4, "number of campaigns")
	adsPerCamp = flag.Int("ads-per-campaign", 3, "ads attached to each campaign")
	houseAds   = flag.Int("house-ads", 10, "ads without a campaign")
	reset      = flag.Bool("reset", false, "delete existing ads and campaigns first")
	userID     = flag.String("user", "demo-user", "user id for the sample bearer token")
	seed       = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := observability.InitLogger("addelivery-seed", cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx := context.Background()
	if *reset {
		if err := pg.DeleteAll(ctx); err != nil {
			logger.Fatal("reset", zap.Error(err))
		}
	}

	r := rand.New(rand.NewSource(*seed))
	now := time.Now()
	inserted := 0

	for c := 0; c < *campaigns; c++ {
		camp := models.Campaign{Name: fakeCampaignName(r)}
		if r.Intn(2) == 0 {
			camp.Budget = models.Ptr(float64(500 + r.Intn(9500)))
		}
		if err := pg.InsertCampaign(ctx, &camp); err != nil {
			logger.Fatal("insert campaign", zap.Error(err))
		}
		for i := 0; i < *adsPerCamp; i++ {
			ad := randomAd(r, now)
			ad.CampaignID = models.Ptr(camp.ID)
			ad.RemainingBudget = models.Ptr(float64(r.Intn(1000)))
			if err := pg.InsertAd(ctx, &ad); err != nil {
				logger.Fatal("insert ad", zap.Error(err))
			}
			inserted++
		}
	}

	for i := 0; i < *houseAds; i++ {
		ad := randomAd(r, now)
		if err := pg.InsertAd(ctx, &ad); err != nil {
			logger.Fatal("insert ad", zap.Error(err))
		}
		inserted++
	}

	fmt.Printf("seeded %d campaigns and %d ads\n", *campaigns, inserted)

	if cfg.TokenSecret == "" {
		fmt.Println("TOKEN_SECRET unset; events will be recorded anonymously")
		return
	}
	tok, err := token.Generate(*userID, now, []byte(cfg.TokenSecret))
	if err != nil {
		logger.Fatal("generate token", zap.Error(err))
	}
	fmt.Printf("sample bearer token for %q:\n  Authorization: Bearer %s\n", *userID, tok)
}

// randomAd returns an active, approved ad of either type. A share of them
// carry a schedule, a few are inactive or unapproved so the filters have
// something to reject.
func randomAd(r *rand.Rand, now time.Time) models.Ad {
	ad := models.Ad{
		Status:   models.StatusActive,
		Approved: true,
		ClickURL: fmt.Sprintf("https://example.com/landing/%d", r.Intn(10000)),
	}
	if r.Intn(3) == 0 {
		ad.Type = models.AdTypeAudio
		ad.Title = fakeTitle(r, "Spot")
		ad.AudioURL = fmt.Sprintf("https://cdn.example.com/audio/%d.mp3", r.Intn(10000))
		ad.DurationSeconds = []int{15, 30, 60}[r.Intn(3)]
		ad.Placements = pick(r, placement.Canonical(models.AdTypeAudio))
	} else {
		ad.Type = models.AdTypeBanner
		ad.Title = fakeTitle(r, "Banner")
		ad.ImageURL = fmt.Sprintf("https://cdn.example.com/banners/%d.png", r.Intn(10000))
		ad.Placements = pick(r, placement.Canonical(models.AdTypeBanner))
	}

	switch r.Intn(10) {
	case 0:
		ad.Status = models.StatusInactive
	case 1:
		ad.Approved = false
	case 2, 3:
		start := now.Add(-time.Duration(r.Intn(72)) * time.Hour)
		end := now.Add(time.Duration(24+r.Intn(720)) * time.Hour)
		ad.StartAt, ad.EndAt = &start, &end
	}
	return ad
}

// pick returns one to three distinct entries of all.
func pick(r *rand.Rand, all []string) []string {
	n := 1 + r.Intn(min(3, len(all)))
	idx := r.Perm(len(all))[:n]
	out := make([]string, n)
	for i, j := range idx {
		out[i] = all[j]
	}
	return out
}

var brands = []string{"Acme", "Prime", "Bright", "Nova", "Echo", "Pulse"}
var products = []string{"Headphones", "Festival", "Coffee", "Sneakers", "Streaming", "Tour"}

func fakeTitle(r *rand.Rand, kind string) string {
	return fmt.Sprintf("%s %s %s", brands[r.Intn(len(brands))], products[r.Intn(len(products))], kind)
}

func fakeCampaignName(r *rand.Rand) string {
	seasons := []string{"Spring", "Summer", "Fall", "Winter", "Holiday"}
	kinds := []string{"Launch", "Promo", "Tour", "Special"}
	return fmt.Sprintf("%s %s %d", seasons[r.Intn(len(seasons))], kinds[r.Intn(len(kinds))], r.Intn(100))
}
