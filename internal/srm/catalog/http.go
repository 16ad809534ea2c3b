package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haseebsahi/refinery-po-system/internal/srm/entity"
	"github.com/shopspring/decimal"
)

// HTTPResolver 远程目录服务客户端，凭证在构造时传入
type HTTPResolver struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPResolver 创建远程目录客户端
func NewHTTPResolver(baseURL, apiKey string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// 远程目录项，price_usd 可能是数字或字符串；缺失或为 null 时 Valid 为 false
type remoteItem struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Supplier string              `json:"supplier"`
	PriceUSD decimal.NullDecimal `json:"price_usd"`
}

// Resolve GET {base}/items/{id}
func (r *HTTPResolver) Resolve(ctx context.Context, itemID string) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.baseURL+"/items/"+url.PathEscape(itemID), nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("创建目录请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("apikey", r.apiKey)
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("请求目录服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return Snapshot{}, ErrItemNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Snapshot{}, fmt.Errorf("目录服务错误[%d]: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var item remoteItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return Snapshot{}, fmt.Errorf("解析目录响应失败: %w", err)
	}
	if item.ID == "" {
		item.ID = itemID
	}
	if item.Supplier == "" {
		return Snapshot{}, fmt.Errorf("目录项 %s 缺少供应商", itemID)
	}
	if !item.PriceUSD.Valid {
		return Snapshot{}, fmt.Errorf("目录项 %s 缺少价格", itemID)
	}
	price, err := entity.NormalizeUnitPrice(item.PriceUSD.Decimal)
	if err != nil {
		return Snapshot{}, fmt.Errorf("目录项 %s 价格无效 %s: %v", itemID, item.PriceUSD.Decimal, err)
	}

	return Snapshot{
		ItemID:    item.ID,
		Name:      item.Name,
		Supplier:  item.Supplier,
		UnitPrice: price,
	}, nil
}
