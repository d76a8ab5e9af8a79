package extract

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Token 是从聊天文本中识别出的一个待监控标的。
type Token struct {
	Raw  string // 原始匹配文本, 含 $ 前缀时保留
	Norm string // 归一化标识, ticker 大写去前缀, 地址原样
	Kind Kind
}

// Kind 区分标的的识别来源。
type Kind int

const (
	KindTicker Kind = iota
	KindEVMAddress
	KindBase58Address
)

func (k Kind) String() string {
	switch k {
	case KindTicker:
		return "ticker"
	case KindEVMAddress:
		return "evm_address"
	case KindBase58Address:
		return "base58_address"
	default:
		return "unknown"
	}
}

var (
	tickerPattern = regexp.MustCompile(`\$([A-Z0-9]{2,10})\b`)
	hexPattern    = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
	base58Pattern = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)
)

// Extractor 从自由文本中提取代币符号与链上地址。
type Extractor struct {
	logger zerolog.Logger
}

// NewExtractor 构造提取器。
func NewExtractor(logger zerolog.Logger) *Extractor {
	return &Extractor{logger: logger.With().Str("component", "extractor").Logger()}
}

// Extract 依次识别 $TICKER、EVM 地址、base58 地址, 去重且保持首次出现顺序。
func (e *Extractor) Extract(text string) []Token {
	var tokens []Token
	seen := make(map[string]struct{})

	add := func(raw, norm string, kind Kind) {
		if _, dup := seen[norm]; dup {
			return
		}
		seen[norm] = struct{}{}
		tokens = append(tokens, Token{Raw: raw, Norm: norm, Kind: kind})
	}

	for _, m := range tickerPattern.FindAllStringSubmatch(text, -1) {
		add(m[0], strings.ToUpper(m[1]), KindTicker)
	}

	for _, m := range hexPattern.FindAllString(text, -1) {
		if !common.IsHexAddress(m) {
			continue
		}
		add(m, m, KindEVMAddress)
	}

	for _, m := range base58Pattern.FindAllString(text, -1) {
		add(m, m, KindBase58Address)
	}

	if len(tokens) > 0 {
		e.logger.Debug().Int("count", len(tokens)).Msg("文本中识别到标的")
	}
	return tokens
}
