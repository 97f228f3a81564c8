package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"godshand-relief/internal/storage"
)

// Report renders settled disbursements as CSV and/or a PNG time series.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, -3, 0)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	claims, days, err := collectDisbursements(ctx, store, from, to, opts.MaxPoints)
	if err != nil {
		return err
	}
	if len(claims) == 0 {
		a.Logger.Info().Msg("no settled claims in report window")
		return nil
	}
	a.Logger.Info().Int("claims", len(claims)).Int("days", len(days)).Msg("reporting settled disbursements")

	if opts.CSVPath != "" {
		if err := writeClaimsCSV(opts.CSVPath, claims); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeDisbursementPNG(opts.PNGPath, days); err != nil {
			return err
		}
	}

	return nil
}

type dayTotal struct {
	day   time.Time
	total decimal.Decimal
}

// collectDisbursements loads settled claims in the window together with
// their per-day totals.
func collectDisbursements(ctx context.Context, lister storage.SettledClaimLister, from, to time.Time, limit int) ([]storage.ClaimRecord, []dayTotal, error) {
	claims, err := lister.ListSettledClaims(ctx, from, to, limit)
	if err != nil {
		return nil, nil, err
	}
	return claims, aggregateByDay(claims), nil
}

func aggregateByDay(claims []storage.ClaimRecord) []dayTotal {
	totals := make(map[time.Time]decimal.Decimal)
	for _, rec := range claims {
		if rec.ClaimedAmountUSD == nil {
			continue
		}
		day := rec.UpdatedAt.UTC().Truncate(24 * time.Hour)
		totals[day] = totals[day].Add(*rec.ClaimedAmountUSD)
	}

	days := make([]dayTotal, 0, len(totals))
	for day, total := range totals {
		days = append(days, dayTotal{day: day, total: total})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].day.Before(days[j].day) })
	return days
}

func writeClaimsCSV(path string, claims []storage.ClaimRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"claim_id", "disaster_hash", "organization_address", "amount_usd", "settlement_tx_ref", "settled_block", "settled_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range claims {
		amount := ""
		if rec.ClaimedAmountUSD != nil {
			amount = rec.ClaimedAmountUSD.String()
		}
		txRef := ""
		if rec.SettlementTxRef != nil {
			txRef = *rec.SettlementTxRef
		}
		block := ""
		if rec.SettledBlock != nil {
			block = strconv.FormatInt(*rec.SettledBlock, 10)
		}
		record := []string{
			rec.ClaimID,
			rec.DisasterHash,
			rec.OrganizationAddress,
			amount,
			txRef,
			block,
			rec.UpdatedAt.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeDisbursementPNG(path string, days []dayTotal) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(days))
	y := make([]float64, len(days))
	for i, dt := range days {
		x[i] = dt.day
		y[i] = dt.total.InexactFloat64()
	}

	usdFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Disbursed (USD)",
			ValueFormatter: usdFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Settled per day",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
