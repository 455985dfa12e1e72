package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/auth"
	"github.com/xenking/bazaar/internal/handler"
	"github.com/xenking/bazaar/internal/storage/postgres"
)

type fixture struct {
	Users []struct {
		ID       uuid.UUID `json:"id"`
		Email    string    `json:"email"`
		FullName string    `json:"fullName"`
		Role     auth.Role `json:"role"`
	} `json:"users"`
	Addresses []struct {
		ID     uuid.UUID `json:"id"`
		UserID uuid.UUID `json:"userId"`
		Line   string    `json:"line"`
	} `json:"addresses"`
	Shops []struct {
		ID       uuid.UUID `json:"id"`
		OwnerID  uuid.UUID `json:"ownerId"`
		Name     string    `json:"name"`
		Approved bool      `json:"approved"`
	} `json:"shops"`
	Products []struct {
		ID     uuid.UUID       `json:"id"`
		ShopID uuid.UUID       `json:"shopId"`
		Name   string          `json:"name"`
		Price  decimal.Decimal `json:"price"`
		Stock  int             `json:"stock"`
		Status string          `json:"status"`
	} `json:"products"`
	Vouchers []struct {
		ID            uuid.UUID           `json:"id"`
		Code          string              `json:"code"`
		ShopID        uuid.NullUUID       `json:"shopId"`
		DiscountType  string              `json:"discountType"`
		Value         decimal.Decimal     `json:"value"`
		MinOrderValue decimal.Decimal     `json:"minOrderValue"`
		MaxDiscount   decimal.NullDecimal `json:"maxDiscount"`
		ValidDays     int                 `json:"validDays"`
		Quantity      int                 `json:"quantity"`
	} `json:"vouchers"`
	Allocations []struct {
		ID        uuid.UUID `json:"id"`
		UserID    uuid.UUID `json:"userId"`
		VoucherID uuid.UUID `json:"voucherId"`
	} `json:"allocations"`
	Carts []struct {
		ID     uuid.UUID `json:"id"`
		UserID uuid.UUID `json:"userId"`
		ShopID uuid.UUID `json:"shopId"`
		Items  []struct {
			ProductID uuid.UUID `json:"productId"`
			Quantity  int       `json:"quantity"`
		} `json:"items"`
	} `json:"carts"`
}

func main() {
	var (
		databaseURL string
		seedFile    string
		jwtSecret   string
		jwtIssuer   string
		tokenTTL    time.Duration
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedFile, "seed-file", "db/seed/marketplace.json", "path to marketplace fixture JSON")
	flag.StringVar(&jwtSecret, "jwt-secret", "", "print demo bearer tokens signed with this secret (or BAZAAR_JWT_SECRET env)")
	flag.StringVar(&jwtIssuer, "jwt-issuer", "bazaar", "issuer of demo tokens")
	flag.DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "lifetime of demo tokens")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if jwtSecret == "" {
		jwtSecret = os.Getenv("BAZAAR_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fx, err := readFixture(seedFile)
	if err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := run(ctx, databaseURL, fx); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")

	if jwtSecret != "" {
		if err := printTokens(fx, jwtSecret, jwtIssuer, tokenTTL); err != nil {
			slog.Error("issue tokens", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
}

func readFixture(path string) (*fixture, error) {
	slog.Info("reading seed file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read seed file")
	}
	var fx fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, errors.Wrap(err, "parse seed JSON")
	}
	for _, u := range fx.Users {
		if !u.Role.Valid() {
			return nil, errors.Errorf("user %s: unknown role %q", u.Email, u.Role)
		}
	}
	return &fx, nil
}

func run(ctx context.Context, databaseURL string, fx *fixture) error {
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

	return seed(ctx, pool, fx)
}

// seed upserts the fixture in one transaction. Re-running it resets stock and
// voucher quantities to the fixture values.
func seed(ctx context.Context, pool *pgxpool.Pool, fx *fixture) error {
	now := time.Now().UTC()

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, u := range fx.Users {
			b.Queue(`INSERT INTO users (id, email, full_name) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, full_name = EXCLUDED.full_name, deleted = FALSE`,
				u.ID, u.Email, u.FullName)
		}
		for _, a := range fx.Addresses {
			b.Queue(`INSERT INTO addresses (id, user_id, line) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET line = EXCLUDED.line, deleted = FALSE`,
				a.ID, a.UserID, a.Line)
		}
		for _, s := range fx.Shops {
			b.Queue(`INSERT INTO shops (id, owner_id, name, approved) VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, approved = EXCLUDED.approved, deleted = FALSE`,
				s.ID, s.OwnerID, s.Name, s.Approved)
		}
		for _, p := range fx.Products {
			b.Queue(`INSERT INTO products (id, shop_id, name, price, stock, status) VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
					stock = EXCLUDED.stock, status = EXCLUDED.status, deleted = FALSE`,
				p.ID, p.ShopID, p.Name, p.Price, p.Stock, p.Status)
		}
		for _, v := range fx.Vouchers {
			b.Queue(`INSERT INTO vouchers (id, shop_id, code, discount_type, value, min_order_value, max_discount,
					start_date, end_date, quantity)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value, min_order_value = EXCLUDED.min_order_value,
					max_discount = EXCLUDED.max_discount, start_date = EXCLUDED.start_date,
					end_date = EXCLUDED.end_date, quantity = EXCLUDED.quantity, deleted = FALSE`,
				v.ID, v.ShopID, v.Code, v.DiscountType, v.Value, v.MinOrderValue, v.MaxDiscount,
				now, now.AddDate(0, 0, v.ValidDays), v.Quantity)
		}
		for _, a := range fx.Allocations {
			b.Queue(`INSERT INTO user_vouchers (id, user_id, voucher_id) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO NOTHING`,
				a.ID, a.UserID, a.VoucherID)
		}
		for _, c := range fx.Carts {
			b.Queue(`INSERT INTO shop_carts (id, user_id, shop_id) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO NOTHING`,
				c.ID, c.UserID, c.ShopID)
			for _, it := range c.Items {
				b.Queue(`INSERT INTO cart_items (shop_cart_id, product_id, quantity) VALUES ($1, $2, $3)
					ON CONFLICT (shop_cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
					c.ID, it.ProductID, it.Quantity)
			}
		}

		slog.Info("upserting fixture",
			slog.Int("users", len(fx.Users)),
			slog.Int("shops", len(fx.Shops)),
			slog.Int("products", len(fx.Products)),
			slog.Int("vouchers", len(fx.Vouchers)),
			slog.Int("statements", b.Len()),
		)
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return errors.Wrap(err, "upsert fixture")
		}
		return nil
	})
}

func printTokens(fx *fixture, secret, issuer string, ttl time.Duration) error {
	authn, err := handler.NewAuthenticator(handler.AuthConfig{Secret: secret, Issuer: issuer})
	if err != nil {
		return err
	}
	for _, u := range fx.Users {
		token, err := authn.Issue(auth.Actor{UserID: u.ID, Email: u.Email, Role: u.Role}, ttl)
		if err != nil {
			return errors.Wrapf(err, "issue token for %s", u.Email)
		}
		slog.Info("demo token",
			slog.String("email", u.Email),
			slog.String("role", string(u.Role)),
			slog.String("token", token),
		)
	}
	return nil
}
