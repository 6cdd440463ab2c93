package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/storage/postgres"
)

var categories = map[string]string{
	"tops":        "Tops",
	"bottoms":     "Bottoms",
	"accessories": "Accessories",
}

var products = []catalog.Product{
	{
		ID: "tee-classic", Name: "Classic Tee", Price: decimal.RequireFromString("19.99"),
		Popular: true, Gender: "unisex", CategoryIDs: []string{"tops"}, Colors: []string{"black", "white"},
		Sizes: []catalog.ProductSize{{Size: catalog.SizeS, Stock: 40}, {Size: catalog.SizeM, Stock: 60}, {Size: catalog.SizeL, Stock: 40}},
	},
	{
		ID: "hoodie-zip", Name: "Zip Hoodie", Price: decimal.RequireFromString("54.00"),
		Gender: "unisex", CategoryIDs: []string{"tops"}, Colors: []string{"grey"},
		Sizes: []catalog.ProductSize{{Size: catalog.SizeM, Stock: 15}, {Size: catalog.SizeL, Stock: 15}, {Size: catalog.SizeXL, Stock: 5}},
	},
	{
		ID: "chino-slim", Name: "Slim Chino", Price: decimal.RequireFromString("42.50"),
		Gender: "men", CategoryIDs: []string{"bottoms"}, Colors: []string{"khaki", "navy"},
		Sizes: []catalog.ProductSize{{Size: catalog.SizeS, Stock: 10}, {Size: catalog.SizeM, Stock: 20}},
	},
	{
		ID: "cap-logo", Name: "Logo Cap", Price: decimal.RequireFromString("12.00"),
		Popular: true, CategoryIDs: []string{"accessories"}, Colors: []string{"black"}, Stock: 100,
	},
}

func discounts(now time.Time) []discount.Discount {
	return []discount.Discount{
		{
			Code: "TOPS10", Kind: discount.KindPercentage, Value: decimal.NewFromInt(10),
			StartDate: now.AddDate(0, -1, 0), EndDate: now.AddDate(0, 6, 0), Active: true,
			Description: "10% off all tops", CategoryIDs: []string{"tops"},
		},
		{
			Code: "CAP2OFF", Kind: discount.KindFixed, Value: decimal.NewFromInt(2),
			StartDate: now.AddDate(0, -1, 0), EndDate: now.AddDate(0, 1, 0), Active: true,
			Description: "2.00 off the logo cap", ProductIDs: []string{"cap-logo"},
		},
	}
}

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
		shipping     string
		taxRate      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "staff API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.StringVar(&shipping, "shipping-cost", "4.99", "flat shipping cost of the seeded shop settings")
	flag.StringVar(&taxRate, "tax-rate", "0.08", "tax rate of the seeded shop settings")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	shop := settings.Settings{Currency: "USD"}
	var err error
	if shop.ShippingCost, err = decimal.NewFromString(shipping); err != nil {
		slog.Error("invalid shipping cost", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if shop.TaxRate, err = decimal.NewFromString(taxRate); err != nil {
		slog.Error("invalid tax rate", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, &shop, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, shop *settings.Settings, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	db := postgres.New(pool, postgres.TxConfig{MaxRetries: 3})
	catalogRepo := postgres.NewCatalogRepository(db)
	settingsRepo := postgres.NewSettingsRepository(db)

	if err := seedCatalog(ctx, catalogRepo); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedSettings(ctx, settings.NewService(db, settingsRepo), shop); err != nil {
		return errors.Wrap(err, "seed settings")
	}
	demo := order.Contact{Name: "Demo Customer", Email: "demo@example.com", Phone: "+15550100"}
	if err := postgres.NewOrderRepository(db).SaveUser(ctx, "demo-user", demo); err != nil {
		return errors.Wrap(err, "seed demo user")
	}
	slog.Info("upserted user", slog.String("id", "demo-user"))

	if err := seedAPIKey(ctx, settingsRepo, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedCatalog(ctx context.Context, repo *postgres.CatalogRepository) error {
	for id, name := range categories {
		if err := repo.SaveCategory(ctx, id, name); err != nil {
			return err
		}
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for i := range products {
		p := &products[i]
		if err := repo.SaveProduct(ctx, p); err != nil {
			return err
		}
		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	for _, d := range discounts(time.Now()) {
		if err := repo.SaveDiscount(ctx, &d); err != nil {
			return err
		}
		slog.Info("upserted discount", slog.String("code", d.Code), slog.String("description", d.Description))
	}

	return nil
}

// seedSettings creates and activates shop settings unless a row is already
// active.
func seedSettings(ctx context.Context, svc *settings.Service, shop *settings.Settings) error {
	cur, err := svc.Current(ctx)
	switch {
	case err == nil:
		slog.Info("shop settings already active", slog.Int64("id", cur.ID))
		return nil
	case !errors.Is(err, settings.ErrNoActive):
		return err
	}

	if err := svc.Create(ctx, shop); err != nil {
		return err
	}
	if err := svc.Activate(ctx, shop.ID); err != nil {
		return err
	}

	slog.Info("activated shop settings",
		slog.Int64("id", shop.ID),
		slog.String("shipping_cost", shop.ShippingCost.StringFixed(2)),
		slog.String("tax_rate", shop.TaxRate.String()),
	)
	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.SettingsRepository, apiKey, pepper string) error {
	slog.Info("seeding staff API key")

	key := &auth.APIKeyInfo{
		ID:      "staff",
		KeyHash: auth.NewAuthenticator(repo, pepper).Hash(apiKey),
		Name:    "Default staff key",
		Scopes:  []string{auth.ScopeStaff},
	}
	if err := repo.SaveAPIKey(ctx, key); err != nil {
		return err
	}

	slog.Info("upserted API key", slog.String("id", key.ID), slog.String("name", key.Name))

	return nil
}
