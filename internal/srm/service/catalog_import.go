package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/haseebsahi/refinery-po-system/internal/shared/apperr"
	"github.com/haseebsahi/refinery-po-system/internal/srm/entity"
	"github.com/haseebsahi/refinery-po-system/internal/srm/repository"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// CatalogImportColumns 导入模板列（首行表头，按名称匹配，大小写不敏感）
var CatalogImportColumns = []string{
	"id", "name", "category", "supplier", "manufacturer", "model",
	"price_usd", "lead_time_days", "in_stock", "description",
}

// ImportRowError 单行导入失败
type ImportRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult 导入结果
type ImportResult struct {
	Imported int              `json:"imported"`
	Failed   int              `json:"failed"`
	Errors   []ImportRowError `json:"errors"`
}

// cacheInvalidator 目录缓存失效（CachedResolver 实现）
type cacheInvalidator interface {
	Invalidate(ctx context.Context, itemIDs ...string) error
}

// CatalogImportService 目录导入
type CatalogImportService struct {
	repos  *repository.Repositories
	cache  cacheInvalidator
	logger *zap.Logger
}

func NewCatalogImportService(repos *repository.Repositories, logger *zap.Logger) *CatalogImportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogImportService{repos: repos, logger: logger}
}

// SetCache 导入后清除目录缓存
func (s *CatalogImportService) SetCache(c cacheInvalidator) {
	s.cache = c
}

// ImportXLSX 从Excel首个工作表导入目录项，已存在的按ID覆盖
func (s *CatalogImportService) ImportXLSX(ctx context.Context, userID string, r io.Reader) (*ImportResult, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperr.Validation("无法解析Excel文件: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, apperr.Validation("read excel: %v", err)
	}

	result := &ImportResult{Errors: []ImportRowError{}}
	if len(rows) < 2 {
		return result, nil
	}

	cols := map[string]int{}
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"id", "name", "supplier", "price_usd"} {
		if _, ok := cols[required]; !ok {
			return nil, apperr.Validation("missing column %q", required)
		}
	}

	var items []entity.CatalogItem
	seen := map[string]int{}
	for i, row := range rows[1:] { // 跳过表头
		rowNum := i + 2
		get := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if strings.Join(row, "") == "" {
			continue
		}

		item, err := parseCatalogRow(get)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ImportRowError{Row: rowNum, Message: err.Error()})
			continue
		}
		// 同一文件内重复ID以最后一行为准
		if idx, dup := seen[item.ID]; dup {
			items[idx] = item
			continue
		}
		seen[item.ID] = len(items)
		items = append(items, item)
	}

	ids := make([]string, len(items))
	for i := range items {
		ids[i] = items[i].ID
	}

	err = s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Catalog.Upsert(ctx, items); err != nil {
			return err
		}
		return tx.ActivityLog.Create(ctx, &entity.ActivityLog{
			EntityType: entity.EntityTypeCatalog,
			EntityID:   "catalog",
			Action:     entity.ActionImport,
			Content:    fmt.Sprintf("导入目录项 %d 条，失败 %d 条", len(items), result.Failed),
			OperatorID: userID,
		})
	})
	if err != nil {
		s.logger.Error("Catalog import failed", zap.Error(err))
		return nil, apperr.Internal(err, "import catalog")
	}
	result.Imported = len(items)

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, ids...); err != nil {
			s.logger.Warn("Catalog cache invalidation failed", zap.Error(err))
		}
	}

	s.logger.Info("Catalog imported", zap.Int("imported", result.Imported), zap.Int("failed", result.Failed))
	return result, nil
}

func parseCatalogRow(get func(string) string) (entity.CatalogItem, error) {
	item := entity.CatalogItem{
		ID:           get("id"),
		Name:         get("name"),
		Category:     get("category"),
		Supplier:     get("supplier"),
		Manufacturer: get("manufacturer"),
		Model:        get("model"),
		Description:  get("description"),
		InStock:      true,
	}
	if item.ID == "" {
		return item, fmt.Errorf("id is required")
	}
	if len(item.ID) > MaxCatalogItemIDLen {
		return item, fmt.Errorf("id must be <= %d chars", MaxCatalogItemIDLen)
	}
	if item.Name == "" {
		return item, fmt.Errorf("name is required")
	}
	if item.Supplier == "" {
		return item, fmt.Errorf("supplier is required")
	}
	if len(item.Supplier) > MaxSupplierLen {
		return item, fmt.Errorf("supplier must be <= %d chars", MaxSupplierLen)
	}

	price, err := decimal.NewFromString(get("price_usd"))
	if err != nil {
		return item, fmt.Errorf("price_usd must be a non-negative number")
	}
	if item.PriceUSD, err = entity.NormalizeUnitPrice(price); err != nil {
		return item, fmt.Errorf("price_usd must be between 0 and %s", entity.MaxUnitPrice.StringFixed(2))
	}

	if v := get("lead_time_days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return item, fmt.Errorf("lead_time_days must be a non-negative integer")
		}
		item.LeadTimeDays = days
	}
	if v := strings.ToLower(get("in_stock")); v != "" {
		item.InStock = v == "true" || v == "yes" || v == "y" || v == "1"
	}
	return item, nil
}
