package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/derive"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/repository"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/store"
	"github.com/pharmledger/pharmledger-backend/pkg/config"
	"github.com/pharmledger/pharmledger-backend/pkg/errors"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
	"github.com/pharmledger/pharmledger-backend/pkg/tenant"
)

// ReportService derives analytics over persisted ledger history.
type ReportService struct {
	store        *store.Store
	ledgerRepo   *repository.LedgerRepository
	pharmacyRepo *repository.PharmacyRepository
	cfg          config.SyncConfig
	logger       *logger.Logger
}

// NewReportService creates a new report service.
func NewReportService(
	st *store.Store,
	ledgerRepo *repository.LedgerRepository,
	pharmacyRepo *repository.PharmacyRepository,
	cfg config.SyncConfig,
	log *logger.Logger,
) *ReportService {
	return &ReportService{
		store:        st,
		ledgerRepo:   ledgerRepo,
		pharmacyRepo: pharmacyRepo,
		cfg:          cfg,
		logger:       log,
	}
}

// ShortageItem carries both shortage classifications for one item. The
// two rules answer different questions and are reported side by side,
// never merged.
type ShortageItem struct {
	Name           string       `json:"name"`
	CurrentStock   int          `json:"current_stock"`
	MonthlyAverage int          `json:"monthly_average"`
	Level          derive.Level `json:"level"`
	Percent        int          `json:"percent"`
	Band           derive.Band  `json:"band"`
}

// ShortageReport is the shortage view of one pharmacy month.
type ShortageReport struct {
	PharmacyID string         `json:"pharmacy_id"`
	Month      string         `json:"month"`
	Items      []ShortageItem `json:"items"`
}

// ConsumptionReport lists the trailing consumption window per item.
type ConsumptionReport struct {
	PharmacyID string                     `json:"pharmacy_id"`
	Month      string                     `json:"month"`
	Windows    []derive.ConsumptionWindow `json:"windows"`
}

// ValuationItem is one line of the stock valuation report.
type ValuationItem struct {
	Name           string          `json:"name"`
	CurrentStock   int             `json:"current_stock"`
	UnitPrice      float64         `json:"unit_price"`
	RemainingValue decimal.Decimal `json:"remaining_value"`
}

// ValuationReport sums remaining stock value over a month. Totals are
// computed in decimal so prices like 0.1 sum exactly.
type ValuationReport struct {
	PharmacyID string          `json:"pharmacy_id"`
	Month      string          `json:"month"`
	Items      []ValuationItem `json:"items"`
	Total      decimal.Decimal `json:"total"`
}

// SourceReportItem is the per-item incoming breakdown by source.
type SourceReportItem struct {
	Name      string                  `json:"name"`
	Breakdown derive.SourceBreakdown  `json:"breakdown"`
}

// SourceReport is the incoming-by-source view of one month.
type SourceReport struct {
	PharmacyID string             `json:"pharmacy_id"`
	Month      string             `json:"month"`
	Items      []SourceReportItem `json:"items"`
}

func (s *ReportService) scopedKey(ctx context.Context, pharmacyID, month string) (domain.ScopeKey, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return domain.ScopeKey{}, errors.Unauthorized("missing session scope")
	}
	if err := scope.AuthorizePharmacy(pharmacyID); err != nil {
		return domain.ScopeKey{}, errors.Forbidden("pharmacy is outside your scope")
	}
	monthKey, err := domain.ParseMonthKey(month)
	if err != nil {
		return domain.ScopeKey{}, errors.Validation(map[string]string{"month": "must be formatted as YYYY-MM"})
	}
	return domain.ScopeKey{TenantID: scope.TenantID, PharmacyID: pharmacyID, Month: monthKey}, nil
}

// windowLedgers merges persisted window months with any fresher local
// copies from the in-memory store.
func (s *ReportService) windowLedgers(ctx context.Context, key domain.ScopeKey) (map[domain.MonthKey]domain.MonthlyLedger, error) {
	ledgers, err := s.ledgerRepo.LoadWindow(ctx, key, s.windowSize())
	if err != nil {
		return nil, err
	}
	for month, local := range s.store.MonthsFor(key.TenantID, key.PharmacyID) {
		if stored, ok := ledgers[month]; !ok || local.Revision >= stored.Revision {
			ledgers[month] = local
		}
	}
	return ledgers, nil
}

func (s *ReportService) windowSize() int {
	if s.cfg.WindowMonths > 0 {
		return s.cfg.WindowMonths
	}
	return derive.DefaultWindowMonths
}

func (s *ReportService) fallbackAverage(average int) int {
	if average != 0 {
		return average
	}
	if s.cfg.DefaultMonthlyAverage > 0 {
		return s.cfg.DefaultMonthlyAverage
	}
	return derive.DefaultMonthlyAverage
}

// Shortage builds the shortage report for one pharmacy month. Each item
// gets both classifications: the threshold level from the raw average
// and the percentage band from the fallback-adjusted average.
func (s *ReportService) Shortage(ctx context.Context, pharmacyID, month string) (ShortageReport, error) {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return ShortageReport{}, err
	}
	ledgers, err := s.windowLedgers(ctx, key)
	if err != nil {
		return ShortageReport{}, err
	}
	current, ok := ledgers[key.Month]
	if !ok {
		return ShortageReport{}, errors.NotFound("monthly ledger")
	}

	report := ShortageReport{PharmacyID: pharmacyID, Month: month}
	for _, it := range current.Items {
		if it.Name == "" {
			continue
		}
		window := derive.TrailingConsumption(it.Name, key.Month, ledgers, s.windowSize())
		stock := derive.CurrentStock(it)
		percentAvg := s.fallbackAverage(window.Average)

		report.Items = append(report.Items, ShortageItem{
			Name:           it.Name,
			CurrentStock:   stock,
			MonthlyAverage: window.Average,
			Level:          derive.ShortageLevel(stock, window.Average),
			Percent:        derive.ShortagePercent(stock, percentAvg),
			Band:           derive.ShortageBand(derive.ShortagePercent(stock, percentAvg)),
		})
	}
	return report, nil
}

// Consumption builds the trailing-window consumption report.
func (s *ReportService) Consumption(ctx context.Context, pharmacyID, month string) (ConsumptionReport, error) {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return ConsumptionReport{}, err
	}
	ledgers, err := s.windowLedgers(ctx, key)
	if err != nil {
		return ConsumptionReport{}, err
	}
	current, ok := ledgers[key.Month]
	if !ok {
		return ConsumptionReport{}, errors.NotFound("monthly ledger")
	}

	report := ConsumptionReport{PharmacyID: pharmacyID, Month: month}
	for _, it := range current.Items {
		if it.Name == "" {
			continue
		}
		report.Windows = append(report.Windows, derive.TrailingConsumption(it.Name, key.Month, ledgers, s.windowSize()))
	}
	return report, nil
}

// Valuation sums the remaining stock value of a month. Disabled by the
// pharmacy's cost-calculation toggle.
func (s *ReportService) Valuation(ctx context.Context, pharmacyID, month string) (ValuationReport, error) {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return ValuationReport{}, err
	}

	pharmacy, err := s.pharmacyRepo.GetByID(ctx, pharmacyID)
	if err != nil {
		return ValuationReport{}, err
	}
	if !pharmacy.Settings.EnableCostCalculationToggle {
		return ValuationReport{}, errors.Forbidden("cost calculation is disabled for this pharmacy")
	}

	ledger, ok := s.store.Snapshot(key)
	if !ok {
		stored, err := s.ledgerRepo.LoadMonth(ctx, key)
		if err != nil {
			return ValuationReport{}, err
		}
		ledger = stored
	}

	report := ValuationReport{PharmacyID: pharmacyID, Month: month, Total: decimal.Zero}
	for _, it := range ledger.Items {
		if it.Name == "" {
			continue
		}
		stock := derive.CurrentStock(it)
		value := decimal.NewFromInt(int64(stock)).Mul(decimal.NewFromFloat(it.UnitPrice))
		report.Items = append(report.Items, ValuationItem{
			Name:           it.Name,
			CurrentStock:   stock,
			UnitPrice:      it.UnitPrice,
			RemainingValue: value,
		})
		report.Total = report.Total.Add(value)
	}
	return report, nil
}

// IncomingBySource breaks a month's incoming quantities down by source.
func (s *ReportService) IncomingBySource(ctx context.Context, pharmacyID, month string) (SourceReport, error) {
	key, err := s.scopedKey(ctx, pharmacyID, month)
	if err != nil {
		return SourceReport{}, err
	}

	ledger, ok := s.store.Snapshot(key)
	if !ok {
		stored, err := s.ledgerRepo.LoadMonth(ctx, key)
		if err != nil {
			return SourceReport{}, err
		}
		ledger = stored
	}

	report := SourceReport{PharmacyID: pharmacyID, Month: month}
	for _, it := range ledger.Items {
		if it.Name == "" {
			continue
		}
		report.Items = append(report.Items, SourceReportItem{
			Name:      it.Name,
			Breakdown: derive.IncomingBySource(it),
		})
	}
	return report, nil
}
