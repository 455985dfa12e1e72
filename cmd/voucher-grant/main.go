// Command voucher-grant allocates a voucher to every user id listed in one or
// more gzip files (one UUID per line), minus the ids listed in optional
// exclusion files.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bazaar/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	batchSize     = 50_000
)

// listFlag collects a repeated string flag.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	var (
		databaseURL string
		voucherID   string
		excludes    listFlag
		expected    uint
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&voucherID, "voucher-id", "", "voucher to allocate")
	flag.Var(&excludes, "exclude", "gzip file of user ids to skip (repeatable)")
	flag.UintVar(&expected, "expected-excluded", 1_000_000, "expected number of excluded ids, sizes the bloom filter")
	flag.BoolVar(&dryRun, "dry-run", false, "resolve recipients without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	vid, err := uuid.Parse(voucherID)
	if err != nil {
		slog.Error("invalid --voucher-id", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		slog.Error("at least one gzip file of user ids is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	recipients, err := resolveRecipients(ctx, flag.Args(), excludes, expected)
	if err != nil {
		slog.Error("voucher grant failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("recipients resolved", slog.Int("count", len(recipients)))

	if dryRun || len(recipients) == 0 {
		return
	}
	if err := grant(ctx, databaseURL, vid, recipients); err != nil {
		slog.Error("voucher grant failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("voucher grant completed successfully")
}

// resolveRecipients returns the distinct ids of the grant files that are not
// listed in any exclusion file.
//
// Exclusions go through a bloom filter first. Ids it flags are suspects and
// are confirmed by re-scanning the exclusion files, so a false positive never
// drops a recipient.
func resolveRecipients(ctx context.Context, files, excludes []string, expected uint) ([]uuid.UUID, error) {
	var filter *bloom.BloomFilter
	if len(excludes) > 0 {
		slog.Info("pass 1: building exclusion filter", slog.Int("files", len(excludes)))
		f, err := buildFilter(ctx, excludes, expected)
		if err != nil {
			return nil, errors.Wrap(err, "build exclusion filter")
		}
		filter = f
	}

	slog.Info("pass 2: reading recipients", slog.Int("files", len(files)))
	ids, err := readIDs(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "read recipients")
	}
	if filter == nil {
		return keys(ids), nil
	}

	suspects := make(map[uuid.UUID]bool)
	for id := range ids {
		if filter.Test(id[:]) {
			suspects[id] = false
		}
	}
	slog.Info("exclusion suspects", slog.Int("count", len(suspects)))

	if len(suspects) > 0 {
		slog.Info("pass 3: confirming exclusions")
		if err := confirmExcluded(ctx, excludes, suspects); err != nil {
			return nil, errors.Wrap(err, "confirm exclusions")
		}
		for id, excluded := range suspects {
			if excluded {
				delete(ids, id)
			}
		}
	}
	return keys(ids), nil
}

func buildFilter(ctx context.Context, files []string, expected uint) (*bloom.BloomFilter, error) {
	filter := bloom.NewWithEstimates(max(expected, 1), bloomFPR)
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			return streamIDs(ctx, path, func(id uuid.UUID) {
				mu.Lock()
				filter.Add(id[:])
				mu.Unlock()
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filter, nil
}

func readIDs(ctx context.Context, files []string) (map[uuid.UUID]struct{}, error) {
	ids := make(map[uuid.UUID]struct{})
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			return streamIDs(ctx, path, func(id uuid.UUID) {
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// confirmExcluded marks the suspects that really occur in an exclusion file.
func confirmExcluded(ctx context.Context, files []string, suspects map[uuid.UUID]bool) error {
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			return streamIDs(ctx, path, func(id uuid.UUID) {
				mu.Lock()
				if _, ok := suspects[id]; ok {
					suspects[id] = true
				}
				mu.Unlock()
			})
		})
	}
	return g.Wait()
}

// streamIDs calls fn for every valid UUID line of a gzip file. Blank lines
// are skipped; malformed lines are counted and logged once at the end.
func streamIDs(ctx context.Context, path string, fn func(uuid.UUID)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	var count, invalid uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, err := uuid.Parse(line)
		if err != nil {
			invalid++
			continue
		}
		fn(id)
		if count++; count%progressEvery == 0 {
			slog.Info("progress", slog.String("file", path), slog.Uint64("ids", count))
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	slog.Info("file complete",
		slog.String("file", path),
		slog.Uint64("ids", count),
		slog.Uint64("invalid", invalid),
	)
	return nil
}

func grant(ctx context.Context, databaseURL string, voucherID uuid.UUID, recipients []uuid.UUID) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	ledger := postgres.NewVoucherLedger(pool)
	var total int64
	for start := 0; start < len(recipients); start += batchSize {
		end := min(start+batchSize, len(recipients))
		n, err := ledger.Grant(ctx, voucherID, recipients[start:end])
		if err != nil {
			return errors.Wrapf(err, "grant batch at %d", start)
		}
		total += n
		slog.Info("grant progress",
			slog.Int("processed", end),
			slog.Int("total", len(recipients)),
			slog.Int64("granted", total),
		)
	}
	return nil
}

func keys(m map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
