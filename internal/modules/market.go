package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultMarketBaseURL = "https://api.dexscreener.com"
	defaultMarketTimeout = 8 * time.Second
)

// PairStats 汇总一个代币在 DEX 上的交易对概况。
type PairStats struct {
	LiquidityUSD   float64 `json:"liquidity_usd"`
	Volume24hUSD   float64 `json:"volume_24h_usd"`
	PriceChange24h float64 `json:"price_change_24h"`
	PairCount      int     `json:"pair_count"`
	AgeDays        float64 `json:"age_days"`
}

// HolderStats 描述代币的持仓分布。
type HolderStats struct {
	HolderCount   int     `json:"holder_count"`
	Top10SharePct float64 `json:"top10_share_pct"`
	CreatorShare  float64 `json:"creator_share_pct"`
}

// MarketClient 是行情数据源的抽象，模块通过它获取链下数据。
type MarketClient interface {
	PairStats(ctx context.Context, chain, address string) (*PairStats, error)
	HolderStats(ctx context.Context, chain, address string) (*HolderStats, error)
}

// DexConfig 描述了调用 DEX 聚合接口所需的信息。
type DexConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DexClient 通过 HTTP 调用 DEX 聚合接口提供行情数据。
type DexClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ MarketClient = (*DexClient)(nil)

// NewDexClient 根据配置创建行情客户端。
func NewDexClient(cfg DexConfig) *DexClient {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultMarketBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMarketTimeout
	}

	return &DexClient{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// PairStats 拉取代币的交易对汇总数据。
func (c *DexClient) PairStats(ctx context.Context, chain, address string) (*PairStats, error) {
	endpoint := fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, strings.TrimSpace(address))
	var decoded struct {
		Pairs []struct {
			Liquidity struct {
				USD float64 `json:"usd"`
			} `json:"liquidity"`
			Volume struct {
				H24 float64 `json:"h24"`
			} `json:"volume"`
			PriceChange struct {
				H24 float64 `json:"h24"`
			} `json:"priceChange"`
			PairCreatedAt int64  `json:"pairCreatedAt"`
			ChainID       string `json:"chainId"`
		} `json:"pairs"`
	}
	if err := c.getJSON(ctx, endpoint, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Pairs) == 0 {
		return nil, errors.New("行情接口未返回任何交易对")
	}

	stats := &PairStats{}
	var oldest int64
	for _, pair := range decoded.Pairs {
		if chain != "" && pair.ChainID != "" && !strings.EqualFold(pair.ChainID, chain) {
			continue
		}
		stats.LiquidityUSD += pair.Liquidity.USD
		stats.Volume24hUSD += pair.Volume.H24
		if stats.PairCount == 0 {
			stats.PriceChange24h = pair.PriceChange.H24
		}
		stats.PairCount++
		if pair.PairCreatedAt > 0 && (oldest == 0 || pair.PairCreatedAt < oldest) {
			oldest = pair.PairCreatedAt
		}
	}
	if stats.PairCount == 0 {
		return nil, fmt.Errorf("链 %s 上没有匹配的交易对", chain)
	}
	if oldest > 0 {
		stats.AgeDays = time.Since(time.UnixMilli(oldest)).Hours() / 24
	}
	return stats, nil
}

// HolderStats 拉取代币的持仓分布数据。
func (c *DexClient) HolderStats(ctx context.Context, chain, address string) (*HolderStats, error) {
	endpoint := fmt.Sprintf("%s/v1/holders/%s/%s", c.baseURL, strings.TrimSpace(chain), strings.TrimSpace(address))
	var decoded struct {
		HolderCount int `json:"holderCount"`
		Top10       struct {
			SharePct float64 `json:"sharePct"`
		} `json:"top10"`
		Creator struct {
			SharePct float64 `json:"sharePct"`
		} `json:"creator"`
	}
	if err := c.getJSON(ctx, endpoint, &decoded); err != nil {
		return nil, err
	}
	return &HolderStats{
		HolderCount:   decoded.HolderCount,
		Top10SharePct: decoded.Top10.SharePct,
		CreatorShare:  decoded.Creator.SharePct,
	}, nil
}

func (c *DexClient) getJSON(ctx context.Context, endpoint string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("构建行情请求失败: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("请求行情接口失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("行情接口返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析行情响应失败: %w", err)
	}
	return nil
}
