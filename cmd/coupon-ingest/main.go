package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/store-backoffice/internal/domain/coupon"
	"github.com/xenking/store-backoffice/internal/repository"
)

const (
	bloomFPR      = 0.001
	minBloomSize  = 1024
	batchSize     = 1000
	progressEvery = 100_000
)

// columns of the coupon CSV files, in order. Only code, discount_type and
// amount are required.
var columns = []string{
	"code", "discount_type", "amount", "min_purchase",
	"max_usage", "max_usage_per_user", "starts_at", "ends_at",
}

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing gzip compressed coupon CSV files")
	flag.StringVar(&pattern, "pattern", "*.csv.gz", "file name pattern inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, filepath.Join(dataDir, pattern), databaseURL, dryRun); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, glob, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(glob)
	if err != nil {
		return errors.Wrapf(err, "match %s", glob)
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", glob)
	}
	sort.Strings(files)

	// Pass 1: parse every file concurrently.
	slog.Info("pass 1: parsing files", slog.Int("files", len(files)))

	parsed, err := parseFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "parse files")
	}
	coupons := dedupe(parsed)
	slog.Info("unique coupons parsed", slog.Int("count", len(coupons)))

	if len(coupons) == 0 {
		slog.Info("no coupons to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL, repository.PoolConfig{})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	seeder := repository.NewSeeder(pool)

	// Pass 2: drop codes that are already stored.
	slog.Info("pass 2: filtering known codes")

	fresh, err := filterKnown(ctx, seeder, coupons)
	if err != nil {
		return errors.Wrap(err, "filter known codes")
	}
	slog.Info("new coupons", slog.Int("count", len(fresh)), slog.Int("known", len(coupons)-len(fresh)))

	if dryRun || len(fresh) == 0 {
		return nil
	}

	return writeCoupons(ctx, seeder, fresh)
}

// parseFiles reads every file concurrently. Results keep the file order.
func parseFiles(ctx context.Context, files []string) ([][]coupon.Coupon, error) {
	results := make([][]coupon.Coupon, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			coupons, err := readFile(ctx, f)
			if err != nil {
				return errors.Wrapf(err, "read %s", filepath.Base(f))
			}
			slog.Info("file parsed", slog.String("file", filepath.Base(f)), slog.Int("coupons", len(coupons)))
			results[i] = coupons
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// dedupe keeps the first definition of every code.
func dedupe(parsed [][]coupon.Coupon) []coupon.Coupon {
	seen := make(map[string]struct{})
	var out []coupon.Coupon
	for _, file := range parsed {
		for _, c := range file {
			if _, ok := seen[c.Code]; ok {
				continue
			}
			seen[c.Code] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// filterKnown drops coupons whose code is already stored. A bloom filter of
// stored codes keeps the exact lookups down to likely hits.
func filterKnown(ctx context.Context, seeder *repository.Seeder, coupons []coupon.Coupon) ([]coupon.Coupon, error) {
	filter := bloom.NewWithEstimates(uint(max(len(coupons), minBloomSize)), bloomFPR)
	var stored int
	if err := seeder.CouponCodes(ctx, func(code string) {
		filter.AddString(code)
		stored++
	}); err != nil {
		return nil, err
	}
	slog.Info("stored codes loaded", slog.Int("count", stored))

	var maybe []string
	for _, c := range coupons {
		if filter.TestString(c.Code) {
			maybe = append(maybe, c.Code)
		}
	}
	if len(maybe) == 0 {
		return coupons, nil
	}

	known := make(map[string]struct{}, len(maybe))
	for chunk := range slices.Chunk(maybe, batchSize) {
		found, err := seeder.ExistingCouponCodes(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for code := range found {
			known[code] = struct{}{}
		}
	}
	slog.Info("bloom filter hits checked", slog.Int("hits", len(maybe)), slog.Int("known", len(known)))

	out := make([]coupon.Coupon, 0, len(coupons)-len(known))
	for _, c := range coupons {
		if _, ok := known[c.Code]; !ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func writeCoupons(ctx context.Context, seeder *repository.Seeder, coupons []coupon.Coupon) error {
	slog.Info("writing coupons to database", slog.Int("count", len(coupons)))

	written := 0
	for chunk := range slices.Chunk(coupons, batchSize) {
		n, err := seeder.InsertCoupons(ctx, chunk)
		if err != nil {
			return err
		}
		written += n
		slog.Info("write progress", slog.Int("written", written), slog.Int("total", len(coupons)))
	}
	return nil
}

// readFile parses a gzip compressed CSV file with a header row.
func readFile(ctx context.Context, path string) ([]coupon.Coupon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	return readCSV(ctx, gz)
}

func readCSV(ctx context.Context, r io.Reader) ([]coupon.Coupon, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	index, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	var out []coupon.Coupon
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read record")
		}
		line, _ := cr.FieldPos(0)

		c, err := parseRecord(rec, index)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		out = append(out, c)

		if len(out)%progressEvery == 0 {
			slog.Info("parse progress", slog.Int("coupons", len(out)))
		}
	}
}

// headerIndex maps known column names to their position.
func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range columns[:3] {
		if _, ok := index[required]; !ok {
			return nil, errors.Errorf("missing column %q", required)
		}
	}
	return index, nil
}

// parseRecord builds an active global coupon from one CSV record.
func parseRecord(rec []string, index map[string]int) (coupon.Coupon, error) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	c := coupon.Coupon{
		Code:   coupon.NormalizeCode(field("code")),
		Type:   coupon.DiscountType(strings.ToLower(field("discount_type"))),
		Global: true,
		Active: true,
	}

	var err error
	if c.Amount, err = decimal.NewFromString(field("amount")); err != nil {
		return c, errors.Wrap(err, "amount")
	}
	if v := field("min_purchase"); v != "" {
		minPurchase, err := decimal.NewFromString(v)
		if err != nil {
			return c, errors.Wrap(err, "min_purchase")
		}
		c.MinPurchase = decimal.NewNullDecimal(minPurchase)
	}
	if c.MaxUsage, err = optInt(field("max_usage")); err != nil {
		return c, errors.Wrap(err, "max_usage")
	}
	if c.MaxUsagePerUser, err = optInt(field("max_usage_per_user")); err != nil {
		return c, errors.Wrap(err, "max_usage_per_user")
	}
	if c.StartsAt, err = optTime(field("starts_at")); err != nil {
		return c, errors.Wrap(err, "starts_at")
	}
	if c.EndsAt, err = optTime(field("ends_at")); err != nil {
		return c, errors.Wrap(err, "ends_at")
	}

	if err := c.Validate(); err != nil {
		return c, errors.Wrapf(err, "coupon %q", c.Code)
	}
	return c, nil
}

func optInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// optTime accepts RFC 3339 timestamps or plain dates.
func optTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errors.Errorf("unsupported time %q", s)
}
