package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/discount"
	"github.com/xenking/storefront/internal/storage/postgres"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
	maxFiles      = 64
	writers       = 4
)

// fileResult holds the discounts parsed from one file. Codes that may also
// appear in another file are kept apart until they are checked exactly.
type fileResult struct {
	unique     []discount.Discount
	candidates map[string]discount.Discount
	rejected   int
}

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing gzip-compressed discount CSV files")
	flag.StringVar(&pattern, "pattern", "*.csv.gz", "glob of discount files within data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and validate without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, pattern, databaseURL, dryRun); err != nil {
		slog.Error("discount import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("discount import completed successfully")
}

func run(ctx context.Context, dataDir, pattern, databaseURL string, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "list files")
	}
	switch {
	case len(files) == 0:
		return errors.Errorf("no files match %s", filepath.Join(dataDir, pattern))
	case len(files) > maxFiles:
		return errors.Errorf("%d files exceed the limit of %d", len(files), maxFiles)
	}
	slices.Sort(files)

	// Pass 1: Build one bloom filter of codes per file, concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Parse every file and set aside codes other files may define.
	slog.Info("pass 2: parsing discounts")

	valid, conflicts, err := collectDiscounts(ctx, files, filters)
	if err != nil {
		return errors.Wrap(err, "collect discounts")
	}

	slog.Info("discounts parsed",
		slog.Int("valid", len(valid)),
		slog.Int("conflicting_codes", len(conflicts)),
	)
	for _, code := range conflicts {
		slog.Warn("code defined in more than one file, skipped", slog.String("code", code))
	}

	if dryRun || len(valid) == 0 {
		slog.Info("nothing to write", slog.Bool("dry_run", dryRun))
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCatalogRepository(postgres.New(pool, postgres.TxConfig{MaxRetries: 3}))
	if err := writeDiscounts(ctx, repo, valid); err != nil {
		return errors.Wrap(err, "write discounts to database")
	}

	return nil
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64

			err := streamFile(ctx, f, func(d discount.Discount) {
				filter.AddString(d.Code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", f), slog.Uint64("codes", count))
				}
			}, nil)
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", f)
			}

			slog.Info("pass 1 complete", slog.String("file", f), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// collectDiscounts parses every file concurrently and returns the discounts
// to write, plus the codes defined in two or more files. Within a file the
// last row for a code wins.
func collectDiscounts(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]discount.Discount, []string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			res, err := scanFile(ctx, i, f, filters)
			if err != nil {
				return errors.Wrapf(err, "scan %s", f)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		valid    []discount.Discount
		rejected int
		masks    = make(map[string]uint64)
		byCode   = make(map[string]discount.Discount)
	)
	for i, r := range results {
		valid = append(valid, r.unique...)
		rejected += r.rejected
		for code, d := range r.candidates {
			masks[code] |= 1 << uint(i)
			byCode[code] = d
		}
	}

	// Bloom false positives show up in a single file only.
	var conflicts []string
	for code, mask := range masks {
		if bits.OnesCount64(mask) >= 2 {
			conflicts = append(conflicts, code)
			continue
		}
		valid = append(valid, byCode[code])
	}
	slices.Sort(conflicts)

	if rejected > 0 {
		slog.Warn("rows rejected", slog.Int("count", rejected))
	}
	return valid, conflicts, nil
}

func scanFile(ctx context.Context, idx int, path string, filters []*bloom.BloomFilter) (fileResult, error) {
	res := fileResult{candidates: make(map[string]discount.Discount)}
	local := make(map[string]int)

	err := streamFile(ctx, path, func(d discount.Discount) {
		for j, f := range filters {
			if j != idx && f.TestString(d.Code) {
				res.candidates[d.Code] = d
				return
			}
		}
		if at, ok := local[d.Code]; ok {
			res.unique[at] = d
			return
		}
		local[d.Code] = len(res.unique)
		res.unique = append(res.unique, d)
	}, func(err *rowError) {
		res.rejected++
		slog.Warn("row rejected", slog.String("file", path), slog.String("error", err.Error()))
	})
	if err != nil {
		return res, err
	}

	slog.Info("pass 2 complete",
		slog.String("file", path),
		slog.Int("unique", len(res.unique)),
		slog.Int("candidates", len(res.candidates)),
	)
	return res, nil
}

// streamFile opens a gzip-compressed CSV file and calls fn for each valid row
// and bad, when set, for each rejected one.
func streamFile(ctx context.Context, path string, fn func(d discount.Discount), bad func(err *rowError)) error {
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

	r, err := newReader(gz)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := r.Next()
		var re *rowError
		switch {
		case err == nil:
			fn(d)
		case errors.Is(err, io.EOF):
			return nil
		case errors.As(err, &re):
			if bad != nil {
				bad(re)
			}
		default:
			return errors.Wrapf(err, "read %s", path)
		}
	}
}

// writeDiscounts upserts discounts with a few concurrent writers.
func writeDiscounts(ctx context.Context, repo *postgres.CatalogRepository, ds []discount.Discount) error {
	slog.Info("writing discounts to database", slog.Int("count", len(ds)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(writers)
	for i := range ds {
		g.Go(func() error {
			if err := repo.SaveDiscount(ctx, &ds[i]); err != nil {
				return errors.Wrapf(err, "save discount %s", ds[i].Code)
			}
			if (i+1)%1000 == 0 {
				slog.Info("write progress", slog.Int("written", i+1), slog.Int("total", len(ds)))
			}
			return nil
		})
	}
	return g.Wait()
}
