package labels

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Category 表示标签的风险倾向。
type Category string

const (
	CategoryScam     Category = "scam"
	CategoryPhishing Category = "phishing"
	CategoryMixer    Category = "mixer"
	CategoryExchange Category = "exchange"
	CategoryVerified Category = "verified"
)

// Provider 定义地址标签查询的通用接口。
type Provider interface {
	Lookup(address string) []Label
}

// Label 描述某个地址上已知的一条标注。
type Label struct {
	Address  string   `json:"address"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Source   string   `json:"source"`
	Note     string   `json:"note,omitempty"`
}

// Negative 判断标签是否属于风险类别。
func (l Label) Negative() bool {
	switch l.Category {
	case CategoryScam, CategoryPhishing, CategoryMixer:
		return true
	default:
		return false
	}
}

// StaticProvider 通过加载 JSON 文件提供静态标签检索能力。
// 地址在加载时统一转为小写，查询不区分大小写。
type StaticProvider struct {
	byAddress map[string][]Label
}

// NewStaticProvider 创建静态标签库实例。
func NewStaticProvider(items []Label) *StaticProvider {
	byAddress := make(map[string][]Label, len(items))
	for _, item := range items {
		key := strings.ToLower(strings.TrimSpace(item.Address))
		if key == "" {
			continue
		}
		byAddress[key] = append(byAddress[key], item)
	}
	return &StaticProvider{byAddress: byAddress}
}

// LoadStaticProvider 从 JSON 文件加载标签条目。
func LoadStaticProvider(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("标签库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析标签库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取标签库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Label
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析标签库文件失败: %w", err)
	}

	return NewStaticProvider(entries), nil
}

// Lookup 返回地址命中的全部标签，未命中时返回空。
func (p *StaticProvider) Lookup(address string) []Label {
	if p == nil {
		return nil
	}
	return p.byAddress[strings.ToLower(strings.TrimSpace(address))]
}

var _ Provider = (*StaticProvider)(nil)
