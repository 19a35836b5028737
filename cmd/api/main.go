package main

import (
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wichananm65/pet-shop-checkout/internal/commerce"
	"github.com/wichananm65/pet-shop-checkout/internal/config"
	"github.com/wichananm65/pet-shop-checkout/internal/infrastructure/logger"
)

// main serves an in-memory commerce backend for local development of the
// storefront.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.NewForEnvironment(cfg.AppEnv, cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = log.Sync() }()

	backend := commerce.NewMemoryBackend()
	seed(backend)

	app := fiber.New()
	commerce.NewServer(backend).RegisterRoutes(app)

	log.Info("starting commerce backend", zap.String("addr", cfg.APIAddr))
	if err := app.Listen(cfg.APIAddr); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func seed(b *commerce.MemoryBackend) {
	price := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

	variants := []commerce.Variant{
		{ID: "food-adult-1kg", ProductID: "animal-food", Name: "Adult dry food 1kg", Price: price(189000), OriginalPrice: price(210000), Stock: 40},
		{ID: "food-adult-3kg", ProductID: "animal-food", Name: "Adult dry food 3kg", Price: price(499000), Stock: 12},
		{ID: "snack-tuna", ProductID: "cat-snacks", Name: "Tuna cat snack", Price: price(45000), Stock: 100},
		{ID: "litter-10l", ProductID: "sand-and-bathroom", Name: "Tofu cat litter 10L", Price: price(259000), Stock: 4},
		{ID: "harness-m", ProductID: "clothes-and-accessories", Name: "Harness size M", Price: price(320000), Stock: 7},
		{ID: "harness-l", ProductID: "clothes-and-accessories", Name: "Harness size L", Price: price(340000), Stock: 0},
		{ID: "shampoo-500", ProductID: "hygiene-care", Name: "Gentle shampoo 500ml", Price: price(150000), Stock: 25},
	}
	for _, v := range variants {
		b.AddVariant(v)
	}

	capShip := price(30000)
	vouchers := []commerce.Voucher{
		{Code: "SAVE10", Type: commerce.VoucherPercentage, Description: "10% off", Value: price(10), Active: true},
		{Code: "PET50K", Type: commerce.VoucherFixed, Description: "50,000 off orders from 500,000", Value: price(50000), MinOrderAmount: price(500000), Active: true},
		{Code: "FREESHIP", Type: commerce.VoucherFreeShipping, Description: "Free shipping", MaxDiscountValue: &capShip, UsageLimit: 100, Active: true},
	}
	for _, v := range vouchers {
		b.AddVoucher(v)
	}

	b.SetShippingFee("", price(30000))
	b.SetShippingFee("district-1", price(20000))
}
